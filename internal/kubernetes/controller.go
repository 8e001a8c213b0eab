package kubernetes

import (
	"context"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"github.com/stacklok/toolhive-service-tracker/internal/sources"
)

// ServiceReconciler mirrors exported Services into the registry
type ServiceReconciler struct {
	client     client.Client
	mirror     *sources.Mirror
	annotation string
}

// Reconcile brings the registration of one Service in line with the cluster
func (r *ServiceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	key, err := ServiceKey(req.Namespace, req.Name)
	if err != nil {
		return ctrl.Result{}, err
	}

	var svc corev1.Service
	if err := r.client.Get(ctx, req.NamespacedName, &svc); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, r.withdraw(key, "deleted")
		}
		slog.Error("Failed to get Service", "namespace", req.Namespace, "name", req.Name, "error", err)
		return ctrl.Result{}, err
	}

	if !svc.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, r.withdraw(key, "terminating")
	}

	spec, exported, err := extractService(&svc, r.annotation)
	if err != nil {
		slog.Warn("Failed to extract service from Kubernetes resource, skipping",
			"namespace", svc.Namespace,
			"name", svc.Name,
			"error", err)
		return ctrl.Result{}, nil
	}
	if !exported {
		return ctrl.Result{}, r.withdraw(key, "not exported")
	}

	if err := r.mirror.Apply(spec); err != nil {
		slog.Error("Failed to register Service", "key", key, "error", err)
		return ctrl.Result{}, err
	}

	slog.Debug("Service exported",
		"key", key,
		"capabilities", spec.Capabilities,
		"address", spec.Address)
	return ctrl.Result{}, nil
}

func (r *ServiceReconciler) withdraw(key, reason string) error {
	if err := r.mirror.Remove(key); err != nil {
		slog.Error("Failed to unregister Service", "key", key, "error", err)
		return err
	}
	slog.Debug("Service withdrawn", "key", key, "reason", reason)
	return nil
}

func checkAnnotation(annotations map[string]string, annotation string) bool {
	if annotations == nil {
		return false
	}
	return strings.TrimSpace(annotations[annotation]) != ""
}

func makeNewObjectPredicate[T client.Object](
	annotation string,
) func(event.TypedCreateEvent[T]) bool {
	return func(event event.TypedCreateEvent[T]) bool {
		return checkAnnotation(event.Object.GetAnnotations(), annotation)
	}
}

func makeUpdateObjectPredicate[T client.Object](
	annotation string,
) func(event.TypedUpdateEvent[T]) bool {
	return func(event event.TypedUpdateEvent[T]) bool {
		// An update that removes the annotation must still withdraw the service:
		// new-exported  | old-exported  | enqueue
		// new-exported  | old-ignored   | enqueue
		// new-ignored   | old-exported  | enqueue
		// new-ignored   | old-ignored   | ignore
		return checkAnnotation(event.ObjectNew.GetAnnotations(), annotation) ||
			checkAnnotation(event.ObjectOld.GetAnnotations(), annotation)
	}
}

func makeDeleteObjectPredicate[T client.Object](
	annotation string,
) func(event.TypedDeleteEvent[T]) bool {
	return func(event event.TypedDeleteEvent[T]) bool {
		return checkAnnotation(event.Object.GetAnnotations(), annotation)
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *ServiceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	annotationPredicate := predicate.Funcs{
		CreateFunc: makeNewObjectPredicate[client.Object](r.annotation),
		UpdateFunc: makeUpdateObjectPredicate[client.Object](r.annotation),
		DeleteFunc: makeDeleteObjectPredicate[client.Object](r.annotation),
	}

	r.client = mgr.GetClient()

	return ctrl.NewControllerManagedBy(mgr).
		Named("service-export").
		For(&corev1.Service{}, builder.WithPredicates(annotationPredicate)).
		Complete(r)
}
