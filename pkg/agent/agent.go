package agent

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ideengine/pkg/health"
	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/cuemby/ideengine/pkg/types"
)

// backendCheckInterval is how often the agent probes the Session
// Endpoint's /healthz to keep BackendHealthy current.
const backendCheckInterval = 15 * time.Second

// flushRequest is how a debounce timer's AfterFunc callback hands control
// back to Run's single goroutine, instead of touching pathState fields
// from the timer's own goroutine — the same signal-not-call pattern the
// pack's fsnotify-based watcher uses to avoid data races on shared state.
type flushRequest struct {
	ps   *pathState
	path string
}

// Agent is the top-level Container Agent coordinator: one watcher, one
// client connection (with reconnect), and one pathState per file under
// watch. A single goroutine (Run's main loop) processes both filesystem
// events and inbound wire messages, which gives the whole agent the
// per-path ordering spec.md §4.5 requires for free, at the cost of not
// processing unrelated paths concurrently — an acceptable trade for a
// component bound by filesystem and network I/O, not CPU.
type Agent struct {
	cfg Config

	w *watcher
	c *client

	mu    sync.Mutex
	paths map[string]*pathState

	pendingInitialMu sync.Mutex
	pendingInitial   map[string]bool
	initialSyncOnce  sync.Once
	initialSyncDone  chan struct{}

	remoteCh chan wireEnvelope
	flushCh  chan flushRequest

	backendChecker     *health.HTTPChecker
	backendConfig      health.Config
	backendStatus      *health.Status
	backendHealthyFlag atomic.Bool
}

// New constructs an Agent from its configuration. It does not touch the
// network or filesystem beyond validating that the workspace path exists.
func New(cfg Config) (*Agent, error) {
	if _, err := os.Stat(cfg.WorkspacePath); err != nil {
		return nil, fmt.Errorf("workspace path %q: %w", cfg.WorkspacePath, err)
	}

	w, err := newWatcher(cfg.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	replicaID := cfg.ContainerID
	if replicaID == "" {
		replicaID = "agent"
	}

	backendConfig := health.DefaultConfig()
	backendConfig.StartPeriod = 5 * time.Second

	a := &Agent{
		cfg:             cfg,
		w:               w,
		c:               newClient(cfg.BackendAPIURL, cfg.BucketID, cfg.ServiceToken),
		paths:           make(map[string]*pathState),
		pendingInitial:  make(map[string]bool),
		initialSyncDone: make(chan struct{}),
		remoteCh:        make(chan wireEnvelope, 256),
		flushCh:         make(chan flushRequest, 64),
		backendChecker:  health.NewHTTPChecker(cfg.BackendAPIURL + "/healthz"),
		backendConfig:   backendConfig,
		backendStatus:   health.NewStatus(),
	}
	a.backendHealthyFlag.Store(true)
	return a, nil
}

func (a *Agent) replicaID() string {
	if a.cfg.ContainerID != "" {
		return a.cfg.ContainerID
	}
	return "agent"
}

func (a *Agent) pathState(relPath string) *pathState {
	a.mu.Lock()
	defer a.mu.Unlock()
	ps, ok := a.paths[relPath]
	if !ok {
		ps = newPathState(a.replicaID())
		a.paths[relPath] = ps
	}
	return ps
}

func (a *Agent) knownPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.paths))
	for p := range a.paths {
		out = append(out, p)
	}
	return out
}

// Run drives the agent until ctx is cancelled. It never returns an error
// for a lost server connection — only for a fatal startup failure (the
// initial filesystem walk or the workspace path itself).
func (a *Agent) Run(ctx context.Context) error {
	compLog := log.WithComponent("agent")

	if err := a.w.addTree(); err != nil {
		return fmt.Errorf("walk workspace: %w", err)
	}
	go a.w.run()
	defer a.w.stop()

	go func() {
		if err := a.serveLocalHealth(); err != nil && ctx.Err() == nil {
			compLog.Warn().Err(err).Msg("local health server exited")
		}
	}()

	if paths, err := a.fetchStartupList(ctx); err != nil {
		compLog.Warn().Err(err).Msg("failed to fetch startup file list, proceeding with empty list")
	} else {
		a.seedStartupList(paths)
	}

	// A file that exists locally but was never part of the server's
	// startup list (created before this agent ever ran) still needs a
	// pathState and a subscription, so a later local-wins conflict
	// resolution and the filesystem-to-CRDT direction both work for it.
	for _, p := range a.collectLocalPaths() {
		a.pathState(p)
	}

	hardTimeout := time.NewTimer(initialSyncHardTimeout)
	defer hardTimeout.Stop()
	sweep := time.NewTicker(resubscribeSweepInterval)
	defer sweep.Stop()
	backendCheck := time.NewTicker(backendCheckInterval)
	defer backendCheck.Stop()

	go runSessions(ctx, a.c, a.onConnected, func(env wireEnvelope) {
		select {
		case a.remoteCh <- env:
		case <-ctx.Done():
		}
	})

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-a.w.events:
			if !ok {
				return nil
			}
			a.handleFSEvent(ev.Path, ev.Kind)

		case err, ok := <-a.w.errs:
			if !ok {
				continue
			}
			compLog.Warn().Err(err).Msg("watcher reported an error, continuing")

		case env := <-a.remoteCh:
			a.handleWireEnvelope(env)

		case req := <-a.flushCh:
			a.flushPendingWrite(req.ps, req.path)

		case <-hardTimeout.C:
			a.completeInitialSync("hard timeout elapsed")

		case <-sweep.C:
			a.resubscribeAll()

		case <-backendCheck.C:
			a.checkBackendHealth(ctx)
		}
	}
}

// onConnected is called by runSessions on every successful connect
// (initial connect and every reconnect alike), and re-subscribes to every
// path the agent already knows about.
func (a *Agent) onConnected(c *client) {
	log.WithComponent("agent").Info().Msg("connected to session endpoint")
	a.resubscribeAll()
}

// checkBackendHealth probes the Session Endpoint's own /healthz and updates
// backendStatus and the syncengine_agent_backend_healthy gauge. It runs on
// Run's single goroutine, so backendStatus needs no lock.
func (a *Agent) checkBackendHealth(ctx context.Context) {
	result := a.backendChecker.Check(ctx)
	a.backendStatus.Update(result, a.backendConfig)

	healthy := a.backendStatus.Healthy || a.backendStatus.InStartPeriod(a.backendConfig)
	a.backendHealthyFlag.Store(healthy)
	if healthy {
		metrics.BackendHealthy.Set(1)
	} else {
		metrics.BackendHealthy.Set(0)
		log.WithComponent("agent").Warn().Str("message", result.Message).Msg("backend health check failing")
	}
}

func (a *Agent) resubscribeAll() {
	for _, p := range a.knownPaths() {
		if err := a.c.subscribe(p); err != nil {
			log.WithComponent("agent").Warn().Err(err).Str("path", p).Msg("subscribe failed")
		}
	}
}

// fetchStartupList asks the Session Endpoint's auxiliary HTTP surface for
// the set of paths the Snapshot Adapter already holds, per spec.md §4.5
// step 1 ("ask the Snapshot Adapter, via the server, for the file list").
func (a *Agent) fetchStartupList(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/buckets/%s/files", a.cfg.BackendAPIURL, a.cfg.BucketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.ServiceToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching file list", resp.StatusCode)
	}

	var body struct {
		Paths []string `json:"paths"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Paths, nil
}

// collectLocalPaths walks the workspace once at startup and returns every
// non-ignored regular file's path relative to the workspace root.
func (a *Agent) collectLocalPaths() []string {
	var out []string
	_ = filepath.WalkDir(a.cfg.WorkspacePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(a.cfg.WorkspacePath, path)
		if relErr != nil || shouldIgnorePath(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	return out
}

func (a *Agent) seedStartupList(paths []string) {
	a.pendingInitialMu.Lock()
	for _, p := range paths {
		a.pendingInitial[p] = true
	}
	pending := len(a.pendingInitial)
	a.pendingInitialMu.Unlock()

	for _, p := range paths {
		ps := a.pathState(p)
		ps.status = statusSubscribedNoLocal
	}

	if pending == 0 {
		a.completeInitialSync("empty startup list")
	}
}

// markPathSynced removes a path from the pending-initial set; once every
// startup-list path has been processed, initial sync completes.
func (a *Agent) markPathSynced(relPath string) {
	a.pendingInitialMu.Lock()
	delete(a.pendingInitial, relPath)
	remaining := len(a.pendingInitial)
	a.pendingInitialMu.Unlock()

	if remaining == 0 {
		a.completeInitialSync("all startup paths processed")
	}
}

func (a *Agent) completeInitialSync(reason string) {
	a.initialSyncOnce.Do(func() {
		close(a.initialSyncDone)
		log.WithComponent("agent").Info().Str("reason", reason).Msg("initial sync complete")
		if err := os.WriteFile(a.cfg.MarkerPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
			log.WithComponent("agent").Warn().Err(err).Msg("failed to write initial-sync-complete marker")
		}
	})
}

// InitialSyncDone returns a channel closed once initial sync completes,
// for the local /healthz handler and tests.
func (a *Agent) InitialSyncDone() <-chan struct{} {
	return a.initialSyncDone
}

// handleFSEvent processes one filesystem event for relPath: it
// cancels any pending debounced remote write for the path (filesystem is
// authoritative over a write still in flight) and, unless the event falls
// inside the path's post-write quiet window, produces and sends an
// outbound CRDT update replacing the document's text with the file's
// current bytes.
func (a *Agent) handleFSEvent(relPath string, kind types.FileEventKind) {
	ps := a.pathState(relPath)
	ps.cancelPendingWrite()

	now := time.Now()
	if ps.inQuietWindow(now) {
		return
	}

	if kind == types.FileEventDelete {
		ps.status = statusUnsubscribed
		a.sendFileTreeChange(relPath, "delete")
		return
	}

	text, err := readFileText(filepath.Join(a.cfg.WorkspacePath, relPath))
	if err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", relPath).Msg("failed to read changed file")
		return
	}

	update, err := ps.doc.ReplaceAll(text)
	if err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", relPath).Msg("failed to build CRDT update from local change")
		return
	}
	ps.status = statusSubscribedLive

	if err := a.c.send(wireEnvelope{
		Kind:     wireKindUpdate,
		BucketID: a.cfg.BucketID,
		FilePath: relPath,
		Update:   base64.StdEncoding.EncodeToString(update),
	}); err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", relPath).Msg("failed to send local update")
	}

	if kind == types.FileEventAdd {
		a.sendFileTreeChange(relPath, "create")
	}
}

func (a *Agent) sendFileTreeChange(relPath, action string) {
	if err := a.c.send(wireEnvelope{
		Kind:     wireKindFileTree,
		BucketID: a.cfg.BucketID,
		FilePath: relPath,
		Action:   action,
	}); err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", relPath).Msg("failed to send file-tree-change")
	}
}

// handleWireEnvelope processes one inbound frame from the Session Endpoint.
func (a *Agent) handleWireEnvelope(env wireEnvelope) {
	switch env.Kind {
	case wireKindState:
		a.handleDocumentState(env)
	case wireKindUpdate:
		a.handleRemoteUpdate(env)
	case wireKindFileTree:
		// The server relays create/delete changes made by other peers in
		// the room. The agent does not act on them: a remote delete does
		// not remove the local file, and a remote create writes nothing.
	case wireKindError:
		log.WithComponent("agent").Warn().Str("code", env.Code).Str("message", env.Message).Str("path", env.FilePath).Msg("session endpoint reported an error")
	}
}

// handleDocumentState applies spec.md §4.5's conflict-resolution table on
// a document-state arrival and logs the decision, per SPEC_FULL.md's
// addition of structured conflict-resolution logging.
func (a *Agent) handleDocumentState(env wireEnvelope) {
	defer a.markPathSynced(env.FilePath)

	stateBytes, err := base64.StdEncoding.DecodeString(env.State)
	if err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", env.FilePath).Msg("malformed document-state")
		return
	}

	ps := a.pathState(env.FilePath)
	if err := ps.doc.DecodeState(stateBytes); err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", env.FilePath).Msg("failed to decode document-state")
		return
	}
	serverText := ps.doc.Text()

	localPath := filepath.Join(a.cfg.WorkspacePath, env.FilePath)
	localText, localErr := readFileText(localPath)
	localExists := localErr == nil

	winner := resolveConflict(localExists, localText, serverText)
	metrics.ConflictsResolvedTotal.WithLabelValues(string(winner)).Inc()
	log.WithComponent("agent").Info().
		Str("path", env.FilePath).
		Str("winner", string(winner)).
		Bool("local_exists", localExists).
		Msg("conflict resolved on document-state arrival")

	switch winner {
	case winnerServer:
		if err := a.writeFileQuiet(ps, localPath, serverText); err != nil {
			log.WithComponent("agent").Warn().Err(err).Str("path", env.FilePath).Msg("failed to write server-wins content")
		}
	case winnerLocal:
		update, err := ps.doc.ReplaceAll(localText)
		if err != nil {
			log.WithComponent("agent").Warn().Err(err).Str("path", env.FilePath).Msg("failed to build local-wins CRDT replacement")
			break
		}
		if err := a.c.send(wireEnvelope{
			Kind:     wireKindUpdate,
			BucketID: a.cfg.BucketID,
			FilePath: env.FilePath,
			Update:   base64.StdEncoding.EncodeToString(update),
		}); err != nil {
			log.WithComponent("agent").Warn().Err(err).Str("path", env.FilePath).Msg("failed to push local-wins replacement")
		}
	case winnerNone:
		// Nothing to write either direction.
	}

	ps.status = statusSubscribedLive
}

// handleRemoteUpdate applies a server-originated CRDT update and schedules
// a debounced disk write rather than writing immediately, per spec.md
// §4.5's debouncing rules.
func (a *Agent) handleRemoteUpdate(env wireEnvelope) {
	updateBytes, err := base64.StdEncoding.DecodeString(env.Update)
	if err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", env.FilePath).Msg("malformed yjs-update")
		return
	}

	ps := a.pathState(env.FilePath)
	significant := significantUpdate(ps, updateBytes)

	if err := ps.doc.Apply(updateBytes); err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", env.FilePath).Msg("failed to apply remote update")
		return
	}
	text := ps.doc.Text()
	now := time.Now()
	ps.lastRemoteUpdateAt = now
	ps.status = statusSubscribedLive

	a.scheduleDebouncedWrite(ps, env.FilePath, text, significant)
}

// significantUpdate decides between the short and long debounce per
// spec.md §4.5: "significant" if enough time has passed since the last
// remote update for this path, or the update itself is large.
func significantUpdate(ps *pathState, update []byte) bool {
	if ps.lastRemoteUpdateAt.IsZero() {
		return true
	}
	return time.Since(ps.lastRemoteUpdateAt) > significantChangeAge || len(update) > significantChangeBytes
}

func (a *Agent) scheduleDebouncedWrite(ps *pathState, relPath, text string, significant bool) {
	ps.cancelPendingWrite()

	delay := longDebounce
	if significant {
		delay = shortDebounce
	}

	sum := sha256.Sum256([]byte(text))
	pw := &pendingWrite{
		deadline:       time.Now().Add(delay),
		text:           text,
		expectedSHA256: hex.EncodeToString(sum[:]),
	}
	pw.timer = time.AfterFunc(delay, func() {
		select {
		case a.flushCh <- flushRequest{ps: ps, path: relPath}:
		default:
			// Buffer full under extreme debounce fan-out; the timer has
			// already fired, so drop rather than block a foreign goroutine.
		}
	})
	ps.pendingWrite = pw
	metrics.DebounceTimersActive.Inc()
}

// flushPendingWrite runs only on Run's goroutine (reached via flushCh), so
// it can touch pathState fields without locking.
func (a *Agent) flushPendingWrite(ps *pathState, relPath string) {
	pw := ps.pendingWrite
	ps.pendingWrite = nil
	if pw == nil {
		return
	}
	metrics.DebounceTimersActive.Dec()

	localPath := filepath.Join(a.cfg.WorkspacePath, relPath)
	if err := a.writeFileQuiet(ps, localPath, pw.text); err != nil {
		log.WithComponent("agent").Warn().Err(err).Str("path", relPath).Msg("failed to flush debounced write")
	}
}

// writeFileQuiet writes content to disk and opens the path's quiet window
// so the watcher's own resulting event is not turned back into an outbound
// update (echo suppression).
func (a *Agent) writeFileQuiet(ps *pathState, path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	ps.quietUntil = time.Now().Add(quietWindow)
	return os.WriteFile(path, []byte(content), 0o644)
}

func readFileText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
