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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/authzed/controller-idioms/handler"
	"github.com/authzed/controller-idioms/queue"
	"github.com/cespare/xxhash/v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/chazu/mfhost/pkg/bundle"
)

// ScopeLabel marks a ConfigMap as the remote entry of a scope
const ScopeLabel = "mfhost.chazu.dev/scope"

const controllerName = "remoteentry"

// Handler IDs for the reconciliation pipeline
const (
	FetchConfigMapID     handler.Key = "fetch-configmap"
	DigestEntryID        handler.Key = "digest-entry"
	InvalidateOnChangeID handler.Key = "invalidate-on-change"
)

// Invalidator drops everything cached for a scope
type Invalidator interface {
	Invalidate(scope string) int
}

// Observation is what was last seen in a remote entry ConfigMap
type Observation struct {
	Scope  string
	Digest string
}

// RemoteEntryReconciler invalidates remotes whose ConfigMap bundle changed
type RemoteEntryReconciler struct {
	client.Client

	// Invalidator is told about changed scopes
	Invalidator Invalidator

	// Key is the ConfigMap key holding the entry, bundle.EntryFile when empty
	Key string

	mu       sync.Mutex
	observed map[types.NamespacedName]Observation

	setup    sync.Once
	pipeline handler.Handler
}

// +kubebuilder:rbac:groups="",resources=configmaps,verbs=get;list;watch

// Reconcile runs the remote entry pipeline for one ConfigMap
func (r *RemoteEntryReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := logf.FromContext(ctx)
	logger.V(1).Info("Reconciling remote entry", "name", req.Name, "namespace", req.Namespace)
	start := time.Now()

	var (
		done         bool
		requeueAfter time.Duration
		requeued     bool
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	queueOps := queue.NewOperations(
		func() { done = true },
		func(d time.Duration) {
			requeued = true
			requeueAfter = d
		},
		cancel,
	)

	ctx = CtxNamespacedName.WithValue(ctx, req.NamespacedName)
	ctx = CtxQueue.WithValue(ctx, queueOps)
	r.setup.Do(r.buildPipeline)
	r.pipeline.Handle(ctx)

	duration := time.Since(start).Seconds()
	if requeued && !done {
		RecordReconcile(controllerName, "requeue", duration)
		return ctrl.Result{RequeueAfter: requeueAfter, Requeue: requeueAfter == 0}, nil
	}
	RecordReconcile(controllerName, "success", duration)
	return ctrl.Result{}, nil
}

func (r *RemoteEntryReconciler) buildPipeline() {
	r.pipeline = handler.Chain(
		r.fetchConfigMap(),
		r.digestEntry(),
		r.invalidateOnChange(),
	).Handler(controllerName)
}

// Observed returns the tracked ConfigMaps and their observations
func (r *RemoteEntryReconciler) Observed() map[types.NamespacedName]Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.NamespacedName]Observation, len(r.observed))
	for k, v := range r.observed {
		out[k] = v
	}
	return out
}

// observe records obs for nn and returns the previous observation
func (r *RemoteEntryReconciler) observe(nn types.NamespacedName, obs *Observation) (Observation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.observed[nn]
	if obs == nil {
		delete(r.observed, nn)
	} else {
		if r.observed == nil {
			r.observed = make(map[types.NamespacedName]Observation)
		}
		r.observed[nn] = *obs
	}
	SetObservedRemotes(len(r.observed))
	return prev, ok
}

func (r *RemoteEntryReconciler) invalidate(ctx context.Context, scope, reason string) {
	removed := r.Invalidator.Invalidate(scope)
	RecordInvalidation(scope, reason)
	logf.FromContext(ctx).Info("Invalidated remote", "scope", scope, "reason", reason, "removed", removed)
}

// fetchConfigMapHandler fetches the ConfigMap, invalidating its scope when
// it was deleted or lost its label
type fetchConfigMapHandler struct {
	r    *RemoteEntryReconciler
	next handler.Handler
}

func (h *fetchConfigMapHandler) Handle(ctx context.Context) {
	nn := CtxNamespacedName.MustValue(ctx)

	cm := &corev1.ConfigMap{}
	if err := h.r.Get(ctx, nn, cm); err != nil {
		if !errors.IsNotFound(err) {
			RecordReconcileError(controllerName, "fetch")
			CtxQueue.RequeueErr(ctx, err)
			return
		}
		cm = nil
	}

	if cm == nil || cm.DeletionTimestamp != nil || cm.Labels[ScopeLabel] == "" {
		if prev, ok := h.r.observe(nn, nil); ok {
			h.r.invalidate(ctx, prev.Scope, "deleted")
		}
		CtxQueue.Done(ctx)
		return
	}

	ctx = CtxConfigMap.WithValue(ctx, cm)
	h.next.Handle(ctx)
}

func (r *RemoteEntryReconciler) fetchConfigMap() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&fetchConfigMapHandler{r: r, next: handler.Handlers(next).MustOne()},
			FetchConfigMapID,
		)
	}
}

// digestEntryHandler hashes the remote entry held in the ConfigMap
type digestEntryHandler struct {
	key  string
	next handler.Handler
}

func (h *digestEntryHandler) Handle(ctx context.Context) {
	cm := CtxConfigMap.MustValue(ctx)

	content, err := bundle.ExtractConfigMapContent(cm, h.key)
	if err != nil {
		// The ConfigMap will be reconciled again when it is updated
		RecordReconcileError(controllerName, "content")
		logf.FromContext(ctx).Info("ConfigMap holds no remote entry", "name", cm.Name, "reason", err.Error())
		CtxQueue.Done(ctx)
		return
	}

	ctx = CtxObservation.WithValue(ctx, Observation{
		Scope:  cm.Labels[ScopeLabel],
		Digest: fmt.Sprintf("%016x", xxhash.Sum64(content)),
	})
	h.next.Handle(ctx)
}

func (r *RemoteEntryReconciler) digestEntry() handler.Builder {
	key := r.Key
	if key == "" {
		key = bundle.EntryFile
	}
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&digestEntryHandler{key: key, next: handler.Handlers(next).MustOne()},
			DigestEntryID,
		)
	}
}

// invalidateOnChangeHandler invalidates a scope whose digest or label changed
// since the previous observation. The first observation only records.
type invalidateOnChangeHandler struct {
	r *RemoteEntryReconciler
}

func (h *invalidateOnChangeHandler) Handle(ctx context.Context) {
	nn := CtxNamespacedName.MustValue(ctx)
	obs := CtxObservation.MustValue(ctx)

	prev, seen := h.r.observe(nn, &obs)
	switch {
	case !seen:
		logf.FromContext(ctx).V(1).Info("Tracking remote entry", "scope", obs.Scope, "digest", obs.Digest)
	case prev.Scope != obs.Scope:
		h.r.invalidate(ctx, prev.Scope, "rescoped")
		h.r.invalidate(ctx, obs.Scope, "rescoped")
	case prev.Digest != obs.Digest:
		h.r.invalidate(ctx, obs.Scope, "changed")
	}
	CtxQueue.Done(ctx)
}

func (r *RemoteEntryReconciler) invalidateOnChange() handler.Builder {
	return func(...handler.Handler) handler.Handler {
		return handler.NewHandler(&invalidateOnChangeHandler{r: r}, InvalidateOnChangeID)
	}
}

// Scopes returns the scopes currently tracked, sorted
func (r *RemoteEntryReconciler) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.observed))
	for _, obs := range r.observed {
		seen[obs.Scope] = struct{}{}
	}
	scopes := make([]string, 0, len(seen))
	for s := range seen {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)
	return scopes
}

// ScopeLabelPredicate admits ConfigMaps carrying ScopeLabel. Updates pass
// when either side is labelled so that removing the label is reconciled.
func ScopeLabelPredicate() predicate.Funcs {
	labelled := func(obj client.Object) bool {
		return obj != nil && obj.GetLabels()[ScopeLabel] != ""
	}
	return predicate.Funcs{
		CreateFunc: func(e event.CreateEvent) bool {
			return labelled(e.Object)
		},
		UpdateFunc: func(e event.UpdateEvent) bool {
			return labelled(e.ObjectOld) || labelled(e.ObjectNew)
		},
		DeleteFunc: func(e event.DeleteEvent) bool {
			return labelled(e.Object)
		},
		GenericFunc: func(e event.GenericEvent) bool {
			return labelled(e.Object)
		},
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *RemoteEntryReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.ConfigMap{}, builder.WithPredicates(ScopeLabelPredicate())).
		Named(controllerName).
		Complete(r)
}
