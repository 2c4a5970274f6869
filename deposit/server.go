// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package deposit serves the gateway's one public HTTP endpoint: a GET that
// allocates a deposit address, arms an issue matcher, and returns the
// address (and required memo, on memo-based networks) to the client. Every
// response is HTTP 200; failures are encoded in the body.
package deposit

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/allocator"
	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/config"
	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/listener"
	"github.com/luxfi/gateway/memo"
	"github.com/luxfi/gateway/metrics"
	"github.com/luxfi/gateway/utils"
)

// depositIDDoc mirrors the deposit counter for operator tooling.
const depositIDDoc = "deposit_id"

// memoAttempts bounds how many memo candidates are drawn before a request
// whose every candidate collides is refused.
const memoAttempts = 3

// Response is the deposit endpoint's JSON body.
type Response struct {
	Response       string `json:"response"`
	ServerTime     int64  `json:"server_time"`
	DepositAddress string `json:"deposit_address,omitempty"`
	GatewayTimeout string `json:"gateway_timeout,omitempty"`
	Memo           string `json:"memo,omitempty"`
	Msg            string `json:"msg"`
	Contact        string `json:"contact"`
}

// Server handles concurrent deposit requests. Shared state is confined to
// the allocator and the outstanding-memo set.
type Server struct {
	Cfg       *config.Config
	Bus       *ipc.Bus
	Recorder  audit.Recorder
	Allocator *allocator.Allocator
	Issuer    listener.Issuer
	Metrics   *metrics.Metrics
	Log       log.Logger

	SessionUnix int64
	SessionDate string

	// ArmDelay is how long the handler waits for the matcher to arm before
	// responding; zero means the default half second.
	ArmDelay time.Duration

	// MatcherCtx bounds spawned matchers; defaults to context.Background.
	MatcherCtx context.Context

	depositID uint64
	matchers  sync.WaitGroup

	// outstanding tracks live memos per (network, address) so two pending
	// deposits can never share a correlation memo.
	outstandingMu sync.Mutex
	outstanding   map[string]map[string]bool
}

// Handler returns the HTTP mux: the configured deposit route plus the
// prometheus endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/"+s.Cfg.Server.Route, s.handleDeposit)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}
	return mux
}

// Serve runs the deposit server until ctx is cancelled, then drains its
// matchers.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Bus.Write(depositIDDoc, 1); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.Cfg.Server.Host, s.Cfg.Server.Port),
		Handler: s.Handler(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.Log.Info("deposit server listening", "addr", srv.Addr, "route", s.Cfg.Server.Route)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.matchers.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	nonce := utils.Microseconds()
	eventID := utils.EventID("D", atomic.AddUint64(&s.depositID, 1))
	_ = s.Bus.Write(depositIDDoc, atomic.LoadUint64(&s.depositID))

	params := r.URL.Query()
	clientID := params.Get("client_id")
	uia := params.Get("uia_name")

	ev := &audit.DepositEvent{
		Header: audit.Header{
			Process:     "deposits",
			EventID:     eventID,
			Nonce:       nonce,
			SessionUnix: s.SessionUnix,
			SessionDate: s.SessionDate,
		},
		ReqParams: params.Encode(),
		UIA:       uia,
		ClientID:  clientID,
	}
	s.Recorder.Chronicle(ev, "received deposit request")
	s.Log.Info("deposit request", "event", eventID, "client", clientID, "uia", uia)

	respond := func(resp Response) {
		resp.ServerTime = nonce
		resp.Contact = s.Cfg.Contact
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK) // errors ride in the body
		_ = json.NewEncoder(w).Encode(resp)
	}

	if clientID == "" || uia == "" {
		s.Recorder.Chronicle(ev, "invalid request")
		respond(Response{Response: "error", Msg: "invalid request: client_id and uia_name are required"})
		return
	}

	network, ok := s.Cfg.NetworkForUIA(uia)
	if !ok {
		s.Recorder.Chronicle(ev, "invalid request")
		s.countRequest("unknown", "error")
		respond(Response{Response: "error", Msg: fmt.Sprintf("%s is not a gateway asset", uia)})
		return
	}
	ev.Network = network

	if !s.Cfg.Offered(network) {
		msg := fmt.Sprintf("%s %s not listed in offerings", eventID, uia)
		s.Recorder.Chronicle(ev, msg)
		s.countRequest(network, "error")
		respond(Response{
			Response: "error",
			Msg:      fmt.Sprintf("oops! the %s gateway is currently down for maintenance, please try again later", uia),
		})
		return
	}

	// Allocate an address: memo networks multiplex the outbound account,
	// pooled networks lock a rotating slot.
	accountIdx := 0
	if !config.IsMemoNetwork(network) {
		idx, ok := s.Allocator.Lock(network)
		if !ok {
			msg := fmt.Sprintf("%s %s gateway overloaded", eventID, uia)
			s.Recorder.Chronicle(ev, msg)
			s.countRequest(network, "overloaded")
			respond(Response{
				Response: "error",
				Msg:      fmt.Sprintf("oops! all %s gateway addresses are in use, please try again later", uia),
			})
			return
		}
		accountIdx = idx
	}
	depositAddress := s.Cfg.ForeignAccounts[network][accountIdx].Public

	requiredMemo, ok := s.uniqueMemo(network, depositAddress)
	if !ok {
		if !config.IsMemoNetwork(network) {
			s.Allocator.Unlock(network, accountIdx, 0)
		}
		s.Recorder.Chronicle(ev, "memo collision, request refused")
		s.countRequest(network, "error")
		respond(Response{Response: "error", Msg: "temporary congestion, please try again"})
		return
	}

	ev.AccountIdx = accountIdx
	ev.RequiredMemo = requiredMemo
	ev.DepositAddress = depositAddress

	// The matcher mutates its envelope as it observes the deposit; hand it
	// a copy so this handler's later chronicles stay race-free.
	matcherEv := &audit.DepositEvent{}
	*matcherEv = *ev

	timing := s.Cfg.Timing[network]
	chainParams := s.Cfg.Parachain[network]
	matcher := &listener.Matcher{
		Network:     network,
		ListeningTo: depositAddress,
		Memo:        requiredMemo,
		ClientID:    clientID,
		Action:      listener.ActionIssue,
		AccountIdx:  accountIdx,
		NilAmount:   s.Cfg.Nil[network],
		Pause:       chainParams.Pause,
		Timeout:     timing.Timeout,
		UnlockPause: timing.Pause,
		Bus:         s.Bus,
		Recorder:    s.Recorder,
		Issuer:      s.Issuer,
		Metrics:     s.Metrics,
		Log:         s.Log,
		Event:       matcherEv,
	}
	if !config.IsMemoNetwork(network) {
		matcher.Unlocker = s.Allocator
	}

	matcherCtx := s.MatcherCtx
	if matcherCtx == nil {
		matcherCtx = context.Background()
	}
	s.matchers.Add(1)
	go func() {
		defer s.matchers.Done()
		defer s.retireMemo(network, depositAddress, requiredMemo)
		defer func() {
			if r := recover(); r != nil {
				s.Log.Error("panic in deposit matcher", "event", eventID, "recovered", r)
			}
		}()
		matcher.Run(matcherCtx)
	}()
	s.Recorder.Chronicle(ev, "listener process started")
	s.countRequest(network, "success")

	// Give the matcher time to record its start block before the client can
	// possibly transfer.
	armDelay := s.ArmDelay
	if armDelay == 0 {
		armDelay = 500 * time.Millisecond
	}
	select {
	case <-matcher.Armed():
	case <-time.After(armDelay):
	}

	estimate := int(timing.Estimate.Minutes())
	msg := fmt.Sprintf(
		"Welcome %s, please transfer your foreign blockchain %s asset to the %s gateway deposit_address in this response. "+
			"Make ONE transfer to this address within the gateway_timeout specified. "+
			"Transactions on this network take about %d minutes to confirm.",
		clientID, network, uia, estimate,
	)
	resp := Response{
		Response:       "success",
		DepositAddress: depositAddress,
		GatewayTimeout: "30 MINUTES",
		Msg:            msg,
	}
	if config.IsMemoNetwork(network) {
		resp.Memo = requiredMemo
		resp.Msg += fmt.Sprintf(" ALERT: %s deposits must include the MEMO provided in this response!", network)
	}
	respond(resp)
}

// uniqueMemo generates a correlation memo not shared with any outstanding
// deposit on the same (network, address). Colliding within the memo space is
// astronomically unlikely; colliding within the outstanding set would
// misattribute a deposit, so it is checked outright.
func (s *Server) uniqueMemo(network, address string) (string, bool) {
	key := network + ":" + address
	s.outstandingMu.Lock()
	defer s.outstandingMu.Unlock()
	if s.outstanding == nil {
		s.outstanding = map[string]map[string]bool{}
	}
	live := s.outstanding[key]
	if live == nil {
		live = map[string]bool{}
		s.outstanding[key] = live
	}
	for i := 0; i < memoAttempts; i++ {
		candidate := memo.Encode(network, randomSeed())
		if !live[candidate] {
			live[candidate] = true
			return candidate, true
		}
	}
	return "", false
}

func (s *Server) retireMemo(network, address, m string) {
	s.outstandingMu.Lock()
	defer s.outstandingMu.Unlock()
	if live := s.outstanding[network+":"+address]; live != nil {
		delete(live, m)
	}
}

func (s *Server) countRequest(network, result string) {
	if s.Metrics != nil {
		s.Metrics.DepositRequests.WithLabelValues(network, result).Inc()
	}
}

// randomSeed draws the memo seed from [1e17, 1e18).
func randomSeed() int64 {
	return 1e17 + rand.Int63n(9e17)
}

// WaitMatchers blocks until all spawned matchers have terminated.
func (s *Server) WaitMatchers() { s.matchers.Wait() }
