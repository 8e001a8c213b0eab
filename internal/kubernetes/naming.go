package kubernetes

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
)

const (
	// PropertyNamespace holds the namespace of an exported Service
	PropertyNamespace = "kubernetes.namespace"

	// PropertyName holds the name of an exported Service
	PropertyName = "kubernetes.name"

	// versionLabel is copied to the registry "version" property
	versionLabel = "app.kubernetes.io/version"
)

// ServiceKey returns the mirror key of a Service: <namespace>/<name>
func ServiceKey(namespace, name string) (string, error) {
	if namespace == "" {
		return "", fmt.Errorf("kubernetes namespace cannot be empty")
	}
	if name == "" {
		return "", fmt.Errorf("kubernetes name cannot be empty")
	}
	return namespace + "/" + name, nil
}

// parseCapabilities splits the export annotation value. Blank entries are dropped.
func parseCapabilities(value string) []string {
	var capabilities []string
	for _, c := range strings.Split(value, ",") {
		if c = strings.TrimSpace(c); c != "" {
			capabilities = append(capabilities, c)
		}
	}
	return capabilities
}

// serviceAddress returns the in-cluster DNS address of the first port
func serviceAddress(svc *corev1.Service) string {
	host := fmt.Sprintf("%s.%s.svc", svc.Name, svc.Namespace)
	if len(svc.Spec.Ports) == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, svc.Spec.Ports[0].Port)
}
