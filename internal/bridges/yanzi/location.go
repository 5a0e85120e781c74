package yanzi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
	"github.com/nerrad567/gray-logic-yanzi/internal/infrastructure/config"
)

const (
	// subscriptionTypeData subscribes to pushed samples.
	subscriptionTypeData = "data"

	// latestConcurrency bounds concurrent GetSamplesRequests on one session.
	latestConcurrency = 8
)

// Logger is the structured logger used across the package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// LocationService reads and watches one Yanzi location.
//
// Every operation opens its own Cirrus session; Watch keeps one open for as
// long as its context lives and reconnects it when it fails.
type LocationService struct {
	cfg       config.YanziConfig
	tlsConfig *tls.Config

	watch     atomic.Pointer[cirrus.Session]
	watchSup  atomic.Pointer[cirrus.Supervisor]
	samples   atomic.Uint64
	lastError atomic.Value // string

	logger   Logger
	loggerMu sync.RWMutex
}

// WatchStats describes the subscription session.
type WatchStats struct {
	Connected bool
	Samples   uint64
	Attempts  uint64
	Restarts  uint64
	LastError string
	Session   cirrus.Stats
}

// NewLocationService creates a service for cfg.LocationID, loading the
// client certificate and CA bundle named in cfg.TLS.
func NewLocationService(cfg config.YanziConfig) (*LocationService, error) {
	if !cfg.HasCredentials() {
		return nil, ErrNoCredentials
	}

	tlsConfig, err := loadTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	return &LocationService{cfg: cfg, tlsConfig: tlsConfig}, nil
}

func loadTLSConfig(cfg config.YanziTLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" && cfg.CAFile == "" {
		return nil, nil
	}

	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}

	return tc, nil
}

// LocationID returns the configured location.
func (s *LocationService) LocationID() string {
	return s.cfg.LocationID
}

// SetLogger sets the logger for the service and the sessions it opens.
func (s *LocationService) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *LocationService) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *LocationService) options() cirrus.Options {
	opts := cirrus.Options{
		Host:                s.cfg.Host,
		URL:                 s.cfg.URL,
		TLSConfig:           s.tlsConfig,
		RequestTimeout:      s.cfg.GetRequestTimeout(),
		SendTimeout:         s.cfg.GetSendTimeout(),
		AuthTimeout:         s.cfg.GetAuthTimeout(),
		PingInterval:        s.cfg.GetPingInterval(),
		SubscriptionTimeout: s.cfg.GetSubscriptionTimeout(),
	}
	if l := s.getLogger(); l != nil {
		opts.Logger = l
	}
	return opts
}

// credentials returns the LoginRequest to send, or nil when the client
// certificate alone identifies the session.
func (s *LocationService) credentials() *cirrus.LoginRequest {
	switch {
	case s.cfg.Username != "" && s.cfg.Password != "":
		return &cirrus.LoginRequest{Username: s.cfg.Username, Password: s.cfg.Password}
	case s.cfg.AccessToken != "":
		return &cirrus.LoginRequest{AccessToken: s.cfg.AccessToken}
	case s.cfg.SessionID != "":
		return &cirrus.LoginRequest{SessionID: s.cfg.SessionID}
	default:
		return nil
	}
}

// Connect opens and authenticates a session. The caller owns the session.
// A login that issues no session id is ErrAuthenticationFailed.
func (s *LocationService) Connect(ctx context.Context) (*cirrus.Session, error) {
	sess, err := cirrus.Dial(ctx, s.options())
	if err != nil {
		return nil, err
	}

	if creds := s.credentials(); creds != nil {
		sessionID, err := sess.Authenticate(ctx, *creds)
		if err != nil {
			sess.Close() //nolint:errcheck // already failing
			return nil, err
		}
		if sessionID == "" {
			sess.Close() //nolint:errcheck // already failing
			return nil, ErrAuthenticationFailed
		}
	}
	return sess, nil
}

// DeviceSources lists every data source of the location with its latest
// sample.
func (s *LocationService) DeviceSources(ctx context.Context) ([]Source, error) {
	sess, err := s.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck // one-shot session

	resp, err := sess.Request(ctx, cirrus.GraphQLRequest{
		LocationAddress: cirrus.NewLocationAddress(s.cfg.LocationID),
		Query:           unitsQuery,
		Vars:            map[string]any{},
		IsLS:            false,
	}, s.cfg.GetRequestTimeout())
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	sources, err := parseUnits(resp, s.cfg.LocationID)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(latestConcurrency)
	for i := range sources {
		g.Go(func() error {
			latest, ok, err := s.latest(gctx, sess, sources[i].Address())
			if err != nil {
				return fmt.Errorf("latest sample of %s: %w", sources[i].Key, err)
			}
			if ok {
				sources[i].Latest = latest
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return sources, nil
}

// GetLatest fetches the most recent sample of one data source on a
// one-shot session. ok is false when the server has no sample.
func (s *LocationService) GetLatest(ctx context.Context, dsa cirrus.DataSourceAddress) (json.RawMessage, bool, error) {
	sess, err := s.Connect(ctx)
	if err != nil {
		return nil, false, err
	}
	defer sess.Close() //nolint:errcheck // one-shot session

	return s.latest(ctx, sess, dsa)
}

func (s *LocationService) latest(ctx context.Context, sess *cirrus.Session, dsa cirrus.DataSourceAddress) (json.RawMessage, bool, error) {
	resp, err := sess.Request(ctx, cirrus.GetSamplesRequest{
		DataSourceAddress:  dsa,
		TimeSerieSelection: cirrus.NewTimeSerieSelection(time.Now().UnixMilli(), 1),
	}, s.cfg.GetRequestTimeout())
	if err != nil {
		return nil, false, err
	}

	var body struct {
		SampleListDto struct {
			List []json.RawMessage `json:"list"`
		} `json:"sampleListDto"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, false, err
	}

	list := body.SampleListDto.List
	if !resp.Success() || len(list) == 0 || string(list[0]) == "null" {
		s.logWarn("got no sample",
			"did", dsa.DID,
			"variable", dsa.Variable(),
			"response_code", resp.Code())
		return nil, false, nil
	}
	return list[0], true, nil
}

// Locations returns the locations visible to the account, id to name.
//
// The server answers in several parts; collection ends when no further part
// arrives within the send timeout.
func (s *LocationService) Locations(ctx context.Context) (map[string]string, error) {
	sess, err := s.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close() //nolint:errcheck // one-shot session

	stream, err := sess.Send(ctx, cirrus.GetLocationsRequest{}, s.cfg.GetSendTimeout())
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	locations := make(map[string]string)
	for {
		resp, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return locations, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing locations: %w", err)
		}

		var body struct {
			List []struct {
				LocationAddress cirrus.LocationAddress `json:"locationAddress"`
				Name            string                 `json:"name"`
			} `json:"list"`
		}
		if err := resp.Decode(&body); err != nil {
			return nil, err
		}
		for _, loc := range body.List {
			locations[loc.LocationAddress.LocationID] = loc.Name
		}
	}
}

// LocationName returns the name of location id.
func (s *LocationService) LocationName(ctx context.Context, id string) (string, error) {
	locations, err := s.Locations(ctx)
	if err != nil {
		return "", err
	}
	name, ok := locations[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidLocation, id)
	}
	return name, nil
}

// Watch subscribes to the location's pushed samples and hands each one to
// pub until ctx is cancelled. Failed sessions are replaced after the
// configured reconnect backoff. It returns ctx.Err().
func (s *LocationService) Watch(ctx context.Context, pub cirrus.Publisher) error {
	sv := &cirrus.Supervisor{
		Name:    "watch " + s.cfg.LocationID,
		Connect: func(ctx context.Context) error { return s.watchOnce(ctx, pub) },
		Backoff: s.cfg.GetReconnectBackoff(),
	}
	if l := s.getLogger(); l != nil {
		sv.Logger = l
	}
	s.watchSup.Store(sv)

	return sv.Run(ctx)
}

func (s *LocationService) watchOnce(ctx context.Context, pub cirrus.Publisher) (err error) {
	defer func() {
		if err != nil && ctx.Err() == nil {
			s.lastError.Store(err.Error())
		}
	}()

	sess, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	defer sess.Close() //nolint:errcheck // replaced on the next attempt

	sub, err := sess.Subscribe(ctx, cirrus.SubscribeRequest{
		UnitAddress:      cirrus.NewUnitAddress(s.cfg.LocationID),
		SubscriptionType: cirrus.NewSubscriptionType(subscriptionTypeData),
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	s.watch.Store(sess)
	defer s.watch.Store(nil)
	s.logInfo("watching location", "location_id", s.cfg.LocationID)

	for {
		resp, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		key, sample, err := decodeSubscribeData(resp)
		if err != nil {
			s.logWarn("skipping subscription data", "error", err)
			continue
		}

		s.samples.Add(1)
		pub.Publish(key, sample)
	}
}

// decodeSubscribeData extracts the first sample of the first data source in
// a SubscribeData envelope.
func decodeSubscribeData(resp *cirrus.Response) (string, json.RawMessage, error) {
	var body struct {
		List []struct {
			DataSourceAddress cirrus.DataSourceAddress `json:"dataSourceAddress"`
			List              []json.RawMessage        `json:"list"`
		} `json:"list"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", nil, err
	}
	if len(body.List) == 0 || len(body.List[0].List) == 0 {
		return "", nil, fmt.Errorf("%w: subscribe data without samples", cirrus.ErrInvalidFrame)
	}

	entry := body.List[0]
	return Key(entry.DataSourceAddress), entry.List[0], nil
}

// Watching reports whether a subscription session is currently active.
func (s *LocationService) Watching() bool {
	sess := s.watch.Load()
	return sess != nil && sess.Err() == nil
}

// WatchStats returns the subscription session statistics.
func (s *LocationService) WatchStats() WatchStats {
	st := WatchStats{
		Samples: s.samples.Load(),
	}
	if v, ok := s.lastError.Load().(string); ok {
		st.LastError = v
	}
	if sv := s.watchSup.Load(); sv != nil {
		st.Attempts = sv.Attempts()
		st.Restarts = sv.Restarts()
	}
	if sess := s.watch.Load(); sess != nil {
		st.Session = sess.Stats()
		st.Connected = sess.Err() == nil
	}
	return st
}

func (s *LocationService) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *LocationService) logWarn(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}
