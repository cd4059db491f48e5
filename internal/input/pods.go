package input

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
)

// PodConfig selects the pods and containers a PodSource reads
type PodConfig struct {
	// Kubeconfig path (empty for in-cluster config)
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	// Namespace to read (empty for all namespaces)
	Namespace     string `yaml:"namespace,omitempty"`
	LabelSelector string `yaml:"label_selector,omitempty"`
	FieldSelector string `yaml:"field_selector,omitempty"`
	// Container name substring (empty for all containers)
	Container string `yaml:"container,omitempty"`
	// Follow keeps streams open and picks up pods that start later
	Follow bool `yaml:"follow"`
	// Previous reads logs of the previous container instance
	Previous bool `yaml:"previous,omitempty"`
	// TailLines limits each stream to its last N lines, 0 for all
	TailLines int64 `yaml:"tail_lines,omitempty"`
	// BufferSize of the merged line channel
	BufferSize int `yaml:"buffer_size,omitempty"`
}

// PodSource merges the log streams of matching pod containers into one line source
type PodSource struct {
	config PodConfig
	client kubernetes.Interface
	logger *logging.Logger

	lines chan string
	errs  chan error

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// NewPodSource creates a pod source from a kubeconfig file or the in-cluster config
func NewPodSource(config PodConfig, logger *logging.Logger) (*PodSource, error) {
	var kubeConfig *rest.Config
	var err error

	if config.Kubeconfig != "" {
		kubeConfig, err = clientcmd.BuildConfigFromFlags("", config.Kubeconfig)
	} else {
		kubeConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	return NewPodSourceWithClient(clientset, config, logger), nil
}

// NewPodSourceWithClient creates a pod source over an existing client
func NewPodSourceWithClient(client kubernetes.Interface, config PodConfig, logger *logging.Logger) *PodSource {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if logger == nil {
		logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PodSource{
		config:  config,
		client:  client,
		logger:  logger.WithComponent("input-kubernetes"),
		lines:   make(chan string, config.BufferSize),
		errs:    make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]context.CancelFunc),
	}
}

// Name identifies the pod selection
func (p *PodSource) Name() string {
	ns := p.config.Namespace
	if ns == "" {
		ns = "*"
	}
	if p.config.LabelSelector != "" {
		return fmt.Sprintf("k8s:%s/%s", ns, p.config.LabelSelector)
	}
	return "k8s:" + ns
}

// Next returns the next line from any matching container. Without Follow
// it returns io.EOF once every stream has ended.
func (p *PodSource) Next(ctx context.Context) (string, error) {
	p.startOnce.Do(p.start)

	select {
	case line, ok := <-p.lines:
		if !ok {
			select {
			case err := <-p.errs:
				return "", err
			default:
			}
			if p.ctx.Err() != nil {
				return "", ErrSourceClosed
			}
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// start lists current pods, optionally watches for new ones, and closes the
// line channel once every producer has finished
func (p *PodSource) start() {
	namespace := p.namespace()
	opts := metav1.ListOptions{
		LabelSelector: p.config.LabelSelector,
		FieldSelector: p.config.FieldSelector,
	}

	pods, err := p.client.CoreV1().Pods(namespace).List(p.ctx, opts)
	if err != nil {
		p.errs <- fmt.Errorf("failed to list pods: %w", err)
		close(p.lines)
		return
	}

	for i := range pods.Items {
		if pods.Items[i].Status.Phase == corev1.PodRunning {
			p.streamPod(&pods.Items[i])
		}
	}
	p.logger.Info().Int("count", len(pods.Items)).Str("namespace", namespace).Msg("Collected existing pods")

	if p.config.Follow {
		watcher, err := p.client.CoreV1().Pods(namespace).Watch(p.ctx, opts)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to watch pods, new pods will not be followed")
		} else {
			p.wg.Add(1)
			go p.watchLoop(watcher)
		}
	}

	go func() {
		p.wg.Wait()
		close(p.lines)
	}()
}

func (p *PodSource) namespace() string {
	if p.config.Namespace == "" {
		return corev1.NamespaceAll
	}
	return p.config.Namespace
}

// watchLoop starts streams for pods that become running and stops streams of deleted pods
func (p *PodSource) watchLoop(watcher watch.Interface) {
	defer p.wg.Done()
	defer watcher.Stop()

	for {
		select {
		case event, ok := <-watcher.ResultChan():
			if !ok {
				p.logger.Info().Msg("Pod watcher closed")
				return
			}

			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}

			switch event.Type {
			case watch.Added, watch.Modified:
				if pod.Status.Phase == corev1.PodRunning {
					p.streamPod(pod)
				}
			case watch.Deleted:
				p.stopPod(pod)
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// streamPod starts one stream per selected container unless already streaming
func (p *PodSource) streamPod(pod *corev1.Pod) {
	for _, container := range pod.Spec.Containers {
		if p.config.Container != "" && !strings.Contains(container.Name, p.config.Container) {
			continue
		}

		key := fmt.Sprintf("%s/%s/%s", pod.Namespace, pod.Name, container.Name)

		p.mu.Lock()
		if _, exists := p.streams[key]; exists {
			p.mu.Unlock()
			continue
		}
		ctx, cancel := context.WithCancel(p.ctx)
		p.streams[key] = cancel
		p.mu.Unlock()

		p.wg.Add(1)
		go p.tailContainer(ctx, pod.Namespace, pod.Name, container.Name)
	}
}

// stopPod cancels the streams of a deleted pod
func (p *PodSource) stopPod(pod *corev1.Pod) {
	prefix := fmt.Sprintf("%s/%s/", pod.Namespace, pod.Name)

	p.mu.Lock()
	defer p.mu.Unlock()
	for key, cancel := range p.streams {
		if strings.HasPrefix(key, prefix) {
			cancel()
			delete(p.streams, key)
		}
	}
}

// tailContainer copies one container's log lines into the merged channel
func (p *PodSource) tailContainer(ctx context.Context, namespace, pod, container string) {
	defer p.wg.Done()

	logger := p.logger.With().
		Str("namespace", namespace).
		Str("pod", pod).
		Str("container", container).
		Logger()

	opts := &corev1.PodLogOptions{
		Container: container,
		Follow:    p.config.Follow,
		Previous:  p.config.Previous,
	}
	if p.config.TailLines > 0 {
		tail := p.config.TailLines
		opts.TailLines = &tail
	}

	stream, err := p.client.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get log stream")
		return
	}
	defer stream.Close()

	reader := bufio.NewReader(stream)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			select {
			case p.lines <- trimEOL(line):
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Error reading container logs")
			}
			return
		}
	}
}

// Close stops all streams
func (p *PodSource) Close() error {
	p.cancel()
	return nil
}
