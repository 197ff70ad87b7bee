package kube

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
)

// NewClientset builds a clientset from a kubeconfig path, falling back to
// the in-cluster service account when the path is empty
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	config.UserAgent = EventComponent

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	klog.V(4).Infof("Created kubernetes client for %s", config.Host)
	return clientset, nil
}
