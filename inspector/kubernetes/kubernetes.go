// Package kubernetes reads declarations from the container environment of
// running pods.
package kubernetes

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/inspector"
	"github.com/kbukum/beachhead/logger"
)

func init() {
	inspector.RegisterFactory(inspector.ProviderKubernetes, func(cfg inspector.Config, providerCfg any, log *logger.Logger) (inspector.Inspector, error) {
		c := &Config{}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("kubernetes: expected *kubernetes.Config, got %T", providerCfg)
			}
			c = pc
		}
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			return nil, apperrors.InvalidConfig("kubernetes", err.Error())
		}
		return NewInspector(cfg, c, log)
	})
}

// Inspector implements inspector.Inspector using the Kubernetes API.
type Inspector struct {
	client kubernetes.Interface
	core   inspector.Config
	cfg    *Config
	log    *logger.Logger
}

// NewInspector creates a Kubernetes inspector from kubeconfig or the
// in-cluster service account.
func NewInspector(core inspector.Config, cfg *Config, log *logger.Logger) (*Inspector, error) {
	restCfg, err := buildRestConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: build config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: create clientset: %w", err)
	}
	return NewInspectorWithClient(clientset, core, cfg, log), nil
}

// NewInspectorWithClient creates an inspector over an existing clientset.
func NewInspectorWithClient(client kubernetes.Interface, core inspector.Config, cfg *Config, log *logger.Logger) *Inspector {
	core.ApplyDefaults()
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Inspector{client: client, core: core, cfg: cfg, log: log.WithComponent("inspector.kubernetes")}
}

var _ inspector.Inspector = (*Inspector)(nil)

// List returns one declaration per running pod. The environments of all
// containers in the pod are merged. Only literal values are read;
// variables populated from ConfigMaps or Secrets are not resolved.
func (i *Inspector) List(ctx context.Context) ([]inspector.Declaration, error) {
	pods, err := i.client.CoreV1().Pods(i.namespace()).List(ctx, metav1.ListOptions{
		LabelSelector: i.cfg.LabelSelector,
		FieldSelector: fields.OneTermEqualSelector("status.phase", string(corev1.PodRunning)).String(),
	})
	if err != nil {
		return nil, apperrors.InspectionFailed(inspector.ProviderKubernetes, err)
	}
	i.log.Debug("listed running pods", map[string]interface{}{"count": len(pods.Items)})

	decls := make([]inspector.Declaration, 0, len(pods.Items))
	for idx := range pods.Items {
		pod := &pods.Items[idx]
		if pod.Status.Phase != corev1.PodRunning || pod.DeletionTimestamp != nil {
			continue
		}
		if !i.core.Matches(string(pod.UID), pod.Name) {
			continue
		}
		raw, present := inspector.LookupEnv(podEnv(pod), i.core.EnvVar)
		decls = append(decls, inspector.Declaration{
			ContainerID:   string(pod.UID),
			ContainerName: pod.Name,
			Host:          i.host(pod),
			Raw:           raw,
			Present:       present,
		})
	}
	return decls, nil
}

// HealthCheck asks the API server for its version.
func (i *Inspector) HealthCheck(_ context.Context) error {
	if _, err := i.client.Discovery().ServerVersion(); err != nil {
		return apperrors.ConnectionFailed("kubernetes").WithCause(err)
	}
	return nil
}

func (i *Inspector) namespace() string {
	if i.cfg.Namespace == AllNamespaces {
		return metav1.NamespaceAll
	}
	return i.cfg.Namespace
}

func (i *Inspector) host(pod *corev1.Pod) string {
	if i.cfg.HostMode == HostModeName || pod.Status.PodIP == "" {
		return pod.Name
	}
	return pod.Status.PodIP
}

// podEnv flattens the literal environment of every container to KEY=VALUE lines.
func podEnv(pod *corev1.Pod) []string {
	var env []string
	for _, c := range pod.Spec.Containers {
		for _, e := range c.Env {
			if e.ValueFrom != nil {
				continue
			}
			env = append(env, e.Name+"="+e.Value)
		}
	}
	return env
}

func buildRestConfig(cfg *Config) (*rest.Config, error) {
	if cfg.Kubeconfig != "" {
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: cfg.Kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: cfg.Context},
		).ClientConfig()
	}
	return rest.InClusterConfig()
}
