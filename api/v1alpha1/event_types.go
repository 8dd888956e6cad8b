/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

// Event names exchanged between the host and loaded remotes
const (
	EventAuthLogin      = "auth:login"
	EventAuthLogout     = "auth:logout"
	EventUserLogin      = "user:login"
	EventUserLogout     = "user:logout"
	EventModuleLoaded   = "module:loaded"
	EventModuleError    = "module:error"
	EventBookingCreated = "booking:created"
	EventBookingUpdated = "booking:updated"
	EventConfigLoaded   = "config:loaded"
)

// UserRole is the coarse role used for remote visibility
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// User is the authenticated principal carried by auth events
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`
}

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingPending   BookingStatus = "pending"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is the payload of booking events
type Booking struct {
	ID                  string        `json:"id"`
	FacilityName        string        `json:"facilityName"`
	BookingDate         string        `json:"bookingDate"`
	StartTime           string        `json:"startTime"`
	EndTime             string        `json:"endTime"`
	Status              BookingStatus `json:"status"`
	BookedBy            string        `json:"bookedBy"`
	Attendees           int           `json:"attendees"`
	Purpose             string        `json:"purpose"`
	CreatedAt           string        `json:"createdAt"`
	SpecialRequirements string        `json:"specialRequirements,omitempty"`
	ContactEmail        string        `json:"contactEmail"`
}

// AuthLoginPayload is emitted with auth:login
type AuthLoginPayload struct {
	User User `json:"user"`
}

// ModuleLoadedPayload is emitted with module:loaded
type ModuleLoadedPayload struct {
	// Key is "scope/module"
	Key string `json:"key"`
}

// ModuleErrorPayload is emitted with module:error
type ModuleErrorPayload struct {
	Module         string  `json:"module"`
	Error          string  `json:"error"`
	Stack          *string `json:"stack,omitempty"`
	ComponentStack *string `json:"componentStack,omitempty"`
}

// BookingPayload is emitted with booking:created and booking:updated
type BookingPayload struct {
	Booking Booking `json:"booking"`
}

// ConfigLoadedPayload is emitted with config:loaded
type ConfigLoadedPayload struct {
	Config *RegistryResponse `json:"config"`
}
