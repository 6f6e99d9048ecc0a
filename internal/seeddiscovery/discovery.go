package seeddiscovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"

	"github.com/masallsome/rapidmember/internal/logging"
	"github.com/masallsome/rapidmember/pkg/wire"
)

// Source watches one EndpointSlice (namespace/serviceName) and surfaces
// its ready pod addresses as join candidates. It is adapted from the
// teacher's Controller (pkg/k8s/controller.go), which ran a
// SharedInformerFactory over Services, EndpointSlices, and a GatewayRoute
// CRD to keep a routing Registry current. None of that routing-DSL
// conversion applies here — a membership node just wants "who else is in
// this headless service" — so Source keeps only the EndpointSlice
// informer and the Ready-condition address extraction, repointed at a
// dirty-style candidates channel instead of the teacher's Registry.
type Source struct {
	namespace string
	service   string
	port      int

	clientset *kubernetes.Clientset
	factory   informers.SharedInformerFactory
	informer  cache.SharedIndexInformer

	mu         sync.Mutex
	candidates map[wire.Endpoint]struct{}
	changed    chan struct{}

	log *logging.Logger
}

// NewSource builds a Source for the EndpointSlices labelled with
// kubernetes.io/service-name=serviceName in namespace. port is the node's
// listen port, assumed identical across replicas of the same service.
// clientset may be nil, in which case Start returns an error immediately —
// callers that never configured seed_discovery should simply not call it.
func NewSource(clientset *kubernetes.Clientset, namespace, serviceName string, port int) *Source {
	return &Source{
		namespace:  namespace,
		service:    serviceName,
		port:       port,
		clientset:  clientset,
		candidates: make(map[wire.Endpoint]struct{}),
		changed:    make(chan struct{}, 1),
		log:        logging.New("seeddiscovery"),
	}
}

// Changed signals (non-blocking, coalesced) whenever the candidate set
// changes, mirroring the teacher's Registry dirty-channel pattern.
func (s *Source) Changed() <-chan struct{} {
	return s.changed
}

// Candidates returns a snapshot of currently known seed addresses.
func (s *Source) Candidates() []wire.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Endpoint, 0, len(s.candidates))
	for e := range s.candidates {
		out = append(out, e)
	}
	return out
}

// Start runs the EndpointSlice informer until ctx is cancelled. It blocks
// until the initial cache sync completes (or ctx expires), matching the
// teacher's Controller.Start use of cache.WaitForCacheSync before
// returning control to its caller.
func (s *Source) Start(ctx context.Context) error {
	if s.clientset == nil {
		return fmt.Errorf("seeddiscovery: no kubernetes client configured")
	}

	selector := labels.SelectorFromSet(labels.Set{
		discoveryv1.LabelServiceName: s.service,
	}).String()

	s.factory = informers.NewSharedInformerFactoryWithOptions(
		s.clientset, 30*time.Second,
		informers.WithNamespace(s.namespace),
		informers.WithTweakListOptions(func(opts *metav1.ListOptions) {
			opts.LabelSelector = selector
		}),
	)
	s.informer = s.factory.Discovery().V1().EndpointSlices().Informer()

	s.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj interface{}) { s.onSlice(obj) },
		UpdateFunc: func(_, obj interface{}) { s.onSlice(obj) },
		DeleteFunc: func(obj interface{}) { s.onSlice(obj) },
	})

	s.factory.Start(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), s.informer.HasSynced) {
		return fmt.Errorf("seeddiscovery: cache sync failed for %s/%s", s.namespace, s.service)
	}
	s.log.Printf("watching endpointslices for %s/%s", s.namespace, s.service)
	return nil
}

func (s *Source) onSlice(obj interface{}) {
	slice, ok := obj.(*discoveryv1.EndpointSlice)
	if !ok {
		return
	}

	next := make(map[wire.Endpoint]struct{})
	for _, ep := range slice.Endpoints {
		if ep.Conditions.Ready != nil && !*ep.Conditions.Ready {
			continue
		}
		for _, addr := range ep.Addresses {
			next[wire.Endpoint{Host: addr, Port: s.port}] = struct{}{}
		}
	}

	s.mu.Lock()
	changed := !sameSet(s.candidates, next)
	s.candidates = next
	s.mu.Unlock()

	if changed {
		select {
		case s.changed <- struct{}{}:
		default:
		}
	}
}

func sameSet(a, b map[wire.Endpoint]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for e := range a {
		if _, ok := b[e]; !ok {
			return false
		}
	}
	return true
}
