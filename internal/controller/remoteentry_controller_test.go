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
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	"sigs.k8s.io/controller-runtime/pkg/event"

	"github.com/chazu/mfhost/pkg/bundle"
)

type recordingInvalidator struct {
	mu     sync.Mutex
	scopes []string
}

func (r *recordingInvalidator) Invalidate(scope string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)
	return 1
}

func (r *recordingInvalidator) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scopes...)
}

var _ = Describe("RemoteEntry Controller", func() {
	const namespace = "default"

	var (
		ctx         context.Context
		k8sClient   client.Client
		invalidator *recordingInvalidator
		reconciler  *RemoteEntryReconciler
		nn          types.NamespacedName
	)

	newConfigMap := func(scope, entry string) *corev1.ConfigMap {
		return &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "auth-remote",
				Namespace: namespace,
				Labels:    map[string]string{ScopeLabel: scope},
			},
			Data: map[string]string{bundle.EntryFile: entry},
		}
	}

	reconcile := func() ctrl.Result {
		result, err := reconciler.Reconcile(ctx, ctrl.Request{NamespacedName: nn})
		Expect(err).NotTo(HaveOccurred())
		return result
	}

	update := func(mutate func(cm *corev1.ConfigMap)) {
		cm := &corev1.ConfigMap{}
		Expect(k8sClient.Get(ctx, nn, cm)).To(Succeed())
		mutate(cm)
		Expect(k8sClient.Update(ctx, cm)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		nn = types.NamespacedName{Name: "auth-remote", Namespace: namespace}
		k8sClient = fake.NewClientBuilder().
			WithObjects(newConfigMap("authApp", "package main\n// v1\n")).
			Build()
		invalidator = &recordingInvalidator{}
		reconciler = &RemoteEntryReconciler{Client: k8sClient, Invalidator: invalidator}
	})

	It("records the first observation without invalidating", func() {
		Expect(reconcile()).To(Equal(ctrl.Result{}))
		Expect(invalidator.Scopes()).To(BeEmpty())
		Expect(reconciler.Observed()).To(HaveKeyWithValue(nn, HaveField("Scope", "authApp")))
		Expect(reconciler.Scopes()).To(Equal([]string{"authApp"}))
	})

	It("does not invalidate when the entry is unchanged", func() {
		reconcile()
		update(func(cm *corev1.ConfigMap) { cm.Annotations = map[string]string{"touched": "yes"} })
		reconcile()
		Expect(invalidator.Scopes()).To(BeEmpty())
	})

	It("invalidates the scope when the entry changes", func() {
		reconcile()
		before := reconciler.Observed()[nn].Digest

		update(func(cm *corev1.ConfigMap) { cm.Data[bundle.EntryFile] = "package main\n// v2\n" })
		reconcile()

		Expect(invalidator.Scopes()).To(Equal([]string{"authApp"}))
		Expect(reconciler.Observed()[nn].Digest).NotTo(Equal(before))
	})

	It("invalidates both scopes when the label moves", func() {
		reconcile()
		update(func(cm *corev1.ConfigMap) { cm.Labels[ScopeLabel] = "loginApp" })
		reconcile()

		Expect(invalidator.Scopes()).To(Equal([]string{"authApp", "loginApp"}))
		Expect(reconciler.Scopes()).To(Equal([]string{"loginApp"}))
	})

	It("invalidates and forgets a deleted ConfigMap", func() {
		reconcile()
		Expect(k8sClient.Delete(ctx, &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: nn.Name, Namespace: nn.Namespace},
		})).To(Succeed())
		reconcile()

		Expect(invalidator.Scopes()).To(Equal([]string{"authApp"}))
		Expect(reconciler.Observed()).To(BeEmpty())
	})

	It("treats a removed label like a deletion", func() {
		reconcile()
		update(func(cm *corev1.ConfigMap) { delete(cm.Labels, ScopeLabel) })
		reconcile()

		Expect(invalidator.Scopes()).To(Equal([]string{"authApp"}))
		Expect(reconciler.Observed()).To(BeEmpty())
	})

	It("ignores a ConfigMap it never observed", func() {
		nn = types.NamespacedName{Name: "missing", Namespace: namespace}
		Expect(reconcile()).To(Equal(ctrl.Result{}))
		Expect(invalidator.Scopes()).To(BeEmpty())
	})

	It("skips ConfigMaps without a recognizable entry", func() {
		update(func(cm *corev1.ConfigMap) {
			cm.Data = map[string]string{"a.txt": "x", "b.txt": "y"}
		})
		Expect(reconcile()).To(Equal(ctrl.Result{}))
		Expect(reconciler.Observed()).To(BeEmpty())
	})

	It("reads a custom key when configured", func() {
		reconciler.Key = "entry.go"
		update(func(cm *corev1.ConfigMap) { cm.Data["entry.go"] = "package main\n" })
		reconcile()
		Expect(reconciler.Observed()).To(HaveKey(nn))

		update(func(cm *corev1.ConfigMap) { cm.Data[bundle.EntryFile] = "package main\n// other\n" })
		reconcile()
		Expect(invalidator.Scopes()).To(BeEmpty())
	})

	It("builds the pipeline once across concurrent reconciles", func() {
		names := []string{"auth-remote", "booking-remote", "reports-remote"}
		for i, name := range names[1:] {
			cm := newConfigMap(fmt.Sprintf("scope%d", i), "package main\n")
			cm.Name = name
			Expect(k8sClient.Create(ctx, cm)).To(Succeed())
		}

		var wg sync.WaitGroup
		for _, name := range names {
			wg.Add(1)
			go func(name string) {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := reconciler.Reconcile(ctx, ctrl.Request{
					NamespacedName: types.NamespacedName{Name: name, Namespace: namespace},
				})
				Expect(err).NotTo(HaveOccurred())
			}(name)
		}
		wg.Wait()

		Expect(reconciler.Observed()).To(HaveLen(3))
		Expect(reconciler.Scopes()).To(Equal([]string{"authApp", "scope0", "scope1"}))
	})

	It("requeues when the ConfigMap cannot be read", func() {
		k8sClient = fake.NewClientBuilder().
			WithInterceptorFuncs(interceptor.Funcs{
				Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
					return context.DeadlineExceeded
				},
			}).
			Build()
		reconciler = &RemoteEntryReconciler{Client: k8sClient, Invalidator: invalidator}

		result := reconcile()
		Expect(result.Requeue || result.RequeueAfter > 0).To(BeTrue())
		Expect(result.RequeueAfter).To(BeNumerically("<=", time.Minute))
		Expect(invalidator.Scopes()).To(BeEmpty())
	})
})

var _ = Describe("ScopeLabelPredicate", func() {
	labelled := func(scope string) *corev1.ConfigMap {
		cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "remote", Namespace: "default"}}
		if scope != "" {
			cm.Labels = map[string]string{ScopeLabel: scope}
		}
		return cm
	}

	It("admits labelled ConfigMaps only", func() {
		p := ScopeLabelPredicate()
		Expect(p.Create(event.CreateEvent{Object: labelled("authApp")})).To(BeTrue())
		Expect(p.Create(event.CreateEvent{Object: labelled("")})).To(BeFalse())
		Expect(p.Delete(event.DeleteEvent{Object: labelled("authApp")})).To(BeTrue())
		Expect(p.Generic(event.GenericEvent{Object: labelled("")})).To(BeFalse())
	})

	It("admits updates that add or remove the label", func() {
		p := ScopeLabelPredicate()
		Expect(p.Update(event.UpdateEvent{ObjectOld: labelled("authApp"), ObjectNew: labelled("")})).To(BeTrue())
		Expect(p.Update(event.UpdateEvent{ObjectOld: labelled(""), ObjectNew: labelled("authApp")})).To(BeTrue())
		Expect(p.Update(event.UpdateEvent{ObjectOld: labelled("authApp"), ObjectNew: labelled("loginApp")})).To(BeTrue())
		Expect(p.Update(event.UpdateEvent{ObjectOld: labelled(""), ObjectNew: labelled("")})).To(BeFalse())
	})
})
