package connsvc

import (
	"fmt"
	"net/http"
	"time"

	"github.com/trezcool/maendeleo/core"
	"github.com/trezcool/maendeleo/core/offline"
)

// Prober derives connectivity from periodic HEAD requests against the
// platform (there is no browser online/offline event to lean on). It
// starts offline until the first successful probe.
type Prober struct {
	*Manual

	url      string
	interval time.Duration
	http     *http.Client
	logger   core.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

var _ offline.Connectivity = (*Prober)(nil)

func NewProber(conf *core.Config, logger core.Logger) *Prober {
	url := conf.Sync.ProbeURL
	if url == "" {
		url = conf.Sync.BaseURL
	}
	return &Prober{
		Manual:   NewManual(false),
		url:      url,
		interval: conf.Sync.ProbeInterval,
		http:     &http.Client{Timeout: conf.Sync.RequestTimeout},
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start probes immediately, then on every tick until Stop is called.
func (p *Prober) Start() {
	go func() {
		defer close(p.doneCh)
		p.probe()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.probe()
			}
		}
	}()
}

func (p *Prober) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Prober) probe() {
	res, err := p.http.Head(p.url)
	if err != nil {
		if p.Online() && p.logger != nil {
			p.logger.Info(fmt.Sprintf("connectivity lost: %v", err))
		}
		p.Set(false)
		return
	}
	_ = res.Body.Close()
	p.Set(true)
}
