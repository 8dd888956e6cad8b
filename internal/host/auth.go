package host

import (
	"github.com/chazu/mfhost/api/v1alpha1"
)

// Login records user as the current user and announces it
func (h *Host) Login(user v1alpha1.User) {
	h.mu.Lock()
	h.user = &user
	h.mu.Unlock()
	h.log.Info("User logged in", "username", user.Username, "role", user.Role)

	payload := v1alpha1.AuthLoginPayload{User: user}
	h.bus.Emit(v1alpha1.EventAuthLogin, payload)
	h.bus.Emit(v1alpha1.EventUserLogin, payload)
}

// Logout clears the current user and announces it
func (h *Host) Logout() {
	h.mu.Lock()
	h.user = nil
	h.mu.Unlock()
	h.log.Info("User logged out")

	h.bus.Emit(v1alpha1.EventAuthLogout, nil)
	h.bus.Emit(v1alpha1.EventUserLogout, nil)
}

// User returns the current user, or nil
func (h *Host) User() *v1alpha1.User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.user == nil {
		return nil
	}
	user := *h.user
	return &user
}
