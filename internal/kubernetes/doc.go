// Package kubernetes exports annotated Kubernetes Services into the service
// registry. A controller-runtime reconciler watches Services carrying the
// export annotation, whose value lists the capabilities the Service
// provides, and keeps a sources.Mirror in line with them.
package kubernetes
