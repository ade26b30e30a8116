package discovery

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/edgenet/transport"
)

// DefaultPeriod is the mean interval between searches.
const DefaultPeriod = 10 * time.Second

// TAHandler supplies the addresses to advertise and consumes the ones
// found.
type TAHandler interface {
	LocalTAs() []*transport.TransportAddress
	UpdateRemoteTAs(tas []*transport.TransportAddress)
}

// HandlerFuncs adapts two functions to a TAHandler. Nil fields are
// no-ops.
type HandlerFuncs struct {
	Local  func() []*transport.TransportAddress
	Remote func([]*transport.TransportAddress)
}

// LocalTAs calls Local.
func (h HandlerFuncs) LocalTAs() []*transport.TransportAddress {
	if h.Local == nil {
		return nil
	}
	return h.Local()
}

// UpdateRemoteTAs calls Remote.
func (h HandlerFuncs) UpdateRemoteTAs(tas []*transport.TransportAddress) {
	if h.Remote != nil {
		h.Remote(tas)
	}
}

// Seeker queries a shared medium for peers. Results flow back through
// Discovery.UpdateRemoteTAs.
type Seeker interface {
	SeekTAs(now time.Time)
}

// Options configures a Discovery.
type Options struct {
	Clock  clock.Clock
	Period time.Duration
}

// Discovery runs a Seeker on a jittered period while peers are wanted.
type Discovery struct {
	handler TAHandler
	seeker  Seeker
	clock   clock.Clock
	period  time.Duration

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// New returns a stopped Discovery.
func New(handler TAHandler, seeker Seeker, opts Options) *Discovery {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	return &Discovery{
		handler: handler,
		seeker:  seeker,
		clock:   opts.Clock,
		period:  opts.Period,
	}
}

// BeginFindingTAs starts the periodic search and runs one search right
// away. It returns false if the search was already running.
func (d *Discovery) BeginFindingTAs() bool {
	d.mu.Lock()
	if d.running.Load() {
		d.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running.Store(true)
	d.mu.Unlock()

	go d.loop(ctx)

	logrus.WithFields(logrus.Fields{
		"function": "Discovery.BeginFindingTAs",
		"period":   d.period.String(),
	}).Debug("Started finding TAs")
	d.seeker.SeekTAs(d.clock.Now())
	return true
}

// EndFindingTAs stops the periodic search. It returns false if the search
// was not running. A search already in progress is not interrupted.
func (d *Discovery) EndFindingTAs() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return false
	}
	d.running.Store(false)
	d.cancel()
	d.cancel = nil

	logrus.WithFields(logrus.Fields{
		"function": "Discovery.EndFindingTAs",
	}).Debug("Stopped finding TAs")
	return true
}

// Stop is EndFindingTAs.
func (d *Discovery) Stop() bool { return d.EndFindingTAs() }

// IsRunning reports whether the periodic search is active.
func (d *Discovery) IsRunning() bool { return d.running.Load() }

func (d *Discovery) loop(ctx context.Context) {
	for {
		t := d.clock.Timer(d.nextDelay())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case now := <-t.C:
			d.seeker.SeekTAs(now)
		}
	}
}

// nextDelay is uniform in [period/2, 3*period/2).
func (d *Discovery) nextDelay() time.Duration {
	half := d.period / 2
	return half + time.Duration(rand.Int64N(int64(d.period)))
}

// LocalTAsToString renders at most limit local addresses; a negative
// limit renders all of them.
func (d *Discovery) LocalTAsToString(limit int) []string {
	tas := d.handler.LocalTAs()
	if limit < 0 || limit > len(tas) {
		limit = len(tas)
	}
	out := make([]string, 0, limit)
	for _, ta := range tas[:limit] {
		out = append(out, ta.String())
	}
	return out
}

// UpdateRemoteTAs parses found addresses, dropping invalid ones, and
// passes them to the handler.
func (d *Discovery) UpdateRemoteTAs(list []string) {
	tas := transport.ParseTAList(list)
	logrus.WithFields(logrus.Fields{
		"function": "Discovery.UpdateRemoteTAs",
		"received": len(list),
		"valid":    len(tas),
	}).Debug("Found remote TAs")
	d.handler.UpdateRemoteTAs(tas)
}
