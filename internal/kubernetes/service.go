package kubernetes

import (
	"fmt"
	"maps"

	corev1 "k8s.io/api/core/v1"

	"github.com/stacklok/toolhive-service-tracker/internal/sources"
	"github.com/stacklok/toolhive-service-tracker/pkg/registry"
)

// extractService converts an exported Service to a ServiceSpec.
// It returns false when the Service is not exported.
func extractService(svc *corev1.Service, annotation string) (sources.ServiceSpec, bool, error) {
	capabilities := parseCapabilities(svc.GetAnnotations()[annotation])
	if len(capabilities) == 0 {
		return sources.ServiceSpec{}, false, nil
	}

	key, err := ServiceKey(svc.Namespace, svc.Name)
	if err != nil {
		return sources.ServiceSpec{}, false, fmt.Errorf("failed to generate service key: %w", err)
	}

	properties := make(map[string]string, len(svc.Labels)+3)
	maps.Copy(properties, svc.Labels)
	properties[PropertyNamespace] = svc.Namespace
	properties[PropertyName] = svc.Name
	if v, ok := svc.Labels[versionLabel]; ok {
		properties[registry.PropertyVersion] = v
	}

	return sources.ServiceSpec{
		Key:          key,
		Capabilities: capabilities,
		Properties:   properties,
		Address:      serviceAddress(svc),
	}, true, nil
}
