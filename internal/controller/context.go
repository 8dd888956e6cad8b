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

package controller

import (
	"github.com/authzed/controller-idioms/queue"
	"github.com/authzed/controller-idioms/typedctx"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
)

// Context keys for the remote entry pipeline
var (
	// CtxQueue provides queue operations for controlling reconciliation
	CtxQueue = queue.NewQueueOperationsCtx()

	// CtxNamespacedName is the ConfigMap being reconciled
	CtxNamespacedName = typedctx.NewKey[types.NamespacedName]()

	// CtxConfigMap is the fetched ConfigMap
	CtxConfigMap = typedctx.NewKey[*corev1.ConfigMap]()

	// CtxObservation is the scope and digest of the fetched remote entry
	CtxObservation = typedctx.NewKey[Observation]()
)
