// Package seeddiscovery is the optional Kubernetes-backed seed source.
// It watches a headless service's EndpointSlice and turns ready pod IPs
// into join candidates, adapted from the teacher's pkg/k8s/client.go and
// pkg/k8s/controller.go (ChrisforCrystal-mas-apigateway), which did the
// same informer-driven discovery for gateway backend clusters instead of
// membership seeds. A node started with an explicit seed address never
// touches this package, mirroring the teacher's nil-safe
// "clientset != nil" guard around its own K8s wiring.
package seeddiscovery

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// NewClient returns a Kubernetes clientset, trying KUBECONFIG, then
// ~/.kube/config, then in-cluster config, in that order — identical
// precedence to the teacher's getRestConfig.
func NewClient() (*kubernetes.Clientset, error) {
	cfg, err := restConfig()
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build k8s clientset: %w", err)
	}
	return clientset, nil
}

func restConfig() (*rest.Config, error) {
	if path := os.Getenv("KUBECONFIG"); path != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	if home := homedir.HomeDir(); home != "" {
		path := filepath.Join(home, ".kube", "config")
		if _, err := os.Stat(path); err == nil {
			return clientcmd.BuildConfigFromFlags("", path)
		}
	}
	return rest.InClusterConfig()
}
