// Package workitem orchestrates remote executions: it fingerprints
// parameter sets, short-circuits on cached artifacts, submits workitems
// with their callback routes, and routes the resulting callbacks back to
// the originating client.
package workitem

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"shelfpilot/internal/fingerprint"
	"shelfpilot/internal/gateway/repository/automation"
	"shelfpilot/internal/gateway/repository/storage"
	"shelfpilot/internal/gateway/service/notify"
	"shelfpilot/internal/gateway/service/session"
)

// Notifier is the push channel to a connected client.
type Notifier interface {
	Send(clientID, event, payload string)
	SendJSON(clientID, event string, payload any)
}

// Translator kicks off downstream processing of a finished archive. The
// actual translation pipeline is an external collaborator.
type Translator interface {
	Translate(ctx context.Context, object string) error
}

// LogTranslator stands in where no translation backend is wired up.
type LogTranslator struct{}

func (LogTranslator) Translate(_ context.Context, object string) error {
	log.Info().Str("object", object).Msg("translation requested")
	return nil
}

type Config struct {
	Activity        string
	CallbackBaseURL string
	// SignedReadTTL bounds the viewer-facing read URLs.
	SignedReadTTL time.Duration
	// UploadTTL bounds the PUT URLs handed to the engine; session jobs
	// reuse theirs across iterations, so it covers a whole session.
	UploadTTL time.Duration
}

type Service struct {
	cfg        Config
	submitter  automation.Submitter
	store      storage.Store
	notifier   Notifier
	translator Translator
	sessions   *session.Registry
	reports    *http.Client
}

func New(cfg Config, submitter automation.Submitter, store storage.Store, notifier Notifier, translator Translator) *Service {
	if cfg.SignedReadTTL <= 0 {
		cfg.SignedReadTTL = 10 * time.Minute
	}
	if cfg.UploadTTL <= 0 {
		cfg.UploadTTL = 2 * time.Hour
	}
	if translator == nil {
		translator = LogTranslator{}
	}
	return &Service{
		cfg:        cfg,
		submitter:  submitter,
		store:      store,
		notifier:   notifier,
		translator: translator,
		reports:    &http.Client{Timeout: 15 * time.Second},
	}
}

// AttachSessions wires the session registry after construction; the
// registry submits through this service, so the two reference each other.
func (s *Service) AttachSessions(reg *session.Registry) {
	s.sessions = reg
}

// Start handles one client request: cache check, then either a session
// continuation or a fan-out of one workitem per requested output.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	clientID := strings.TrimSpace(req.BrowserConnectionID)
	if clientID == "" {
		return StartResult{}, fmt.Errorf("browserConnectionId is required")
	}
	if len(req.Params) == 0 {
		return StartResult{}, fmt.Errorf("params are required")
	}

	fp, err := fingerprint.OfRaw(req.Params)
	if err != nil {
		return StartResult{}, fmt.Errorf("fingerprint params: %w", err)
	}

	if req.UseCache && s.store.Exists(ctx, fp+".zip") {
		s.pushCachedResult(ctx, clientID, fp)
		return StartResult{CachedResult: true}, nil
	}

	if req.KeepWorkitem {
		handle, err := s.sessions.StartOrContinue(ctx, clientID, req.Params)
		if err != nil {
			log.Error().Err(err).Str("client_id", clientID).Msg("session start failed")
			return StartResult{}, err
		}
		return StartResult{SessionWorkItemID: handle}, nil
	}

	return s.submitOutputs(ctx, clientID, fp, req)
}

// pushCachedResult serves a previous run's artifacts without submitting
// anything. The cached archive needs no repositioning, hence the identity
// transform.
func (s *Service) pushCachedResult(ctx context.Context, clientID, fp string) {
	log.Info().Str("client_id", clientID).Str("fingerprint", fp).Msg("cache hit")

	s.notifier.SendJSON(clientID, notify.EventComponents, componentsRef{
		File:   fp + ".zip",
		Matrix: identityMatrix(),
	})

	if s.store.Exists(ctx, fp+".png") {
		u, err := s.store.SignedGetURL(ctx, fp+".png", s.cfg.SignedReadTTL)
		if err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Msg("cached picture url failed")
			return
		}
		s.notifier.Send(clientID, notify.EventPicture, u)
	}
}

// submitOutputs fans out one workitem per output. The png lands in the
// bucket under its final name, the structured data comes back through the
// data callback, and the archive is only produced when the run should
// populate the cache.
func (s *Service) submitOutputs(ctx context.Context, clientID, fp string, req StartRequest) (StartResult, error) {
	pngName := clientID + ".png"
	if req.UseCache {
		pngName = fp + ".png"
	}
	jsonName := clientID + ".json"

	var result StartResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		putURL, err := s.store.SignedPutURL(gctx, pngName, s.cfg.UploadTTL)
		if err != nil {
			return fmt.Errorf("png upload url: %w", err)
		}
		handle, err := s.submitOne(gctx, clientID, req, "outputPng", pngName, automation.Argument{
			URL:  putURL,
			Verb: automation.VerbPut,
		})
		if err != nil {
			return err
		}
		result.PngWorkItemID = handle
		return nil
	})

	g.Go(func() error {
		handle, err := s.submitOne(gctx, clientID, req, "outputJson", jsonName, automation.Argument{
			URL:     s.dataCallbackURL("json", clientID, jsonName),
			Verb:    automation.VerbPut,
			Headers: map[string]string{"Content-Type": "application/json"},
		})
		if err != nil {
			return err
		}
		result.JSONWorkItemID = handle
		return nil
	})

	if req.UseCache {
		zipName := fp + ".zip"
		g.Go(func() error {
			putURL, err := s.store.SignedPutURL(gctx, zipName, s.cfg.UploadTTL)
			if err != nil {
				return fmt.Errorf("zip upload url: %w", err)
			}
			handle, err := s.submitOne(gctx, clientID, req, "outputZip", zipName, automation.Argument{
				URL:  putURL,
				Verb: automation.VerbPut,
			})
			if err != nil {
				return err
			}
			result.ZipWorkItemID = handle
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("workitem submission failed")
		return StartResult{}, err
	}
	return result, nil
}

func (s *Service) submitOne(ctx context.Context, clientID string, req StartRequest, outputName, fileName string, output automation.Argument) (string, error) {
	input, err := json.Marshal(engineInput{
		Params:     req.Params,
		Output:     outputName,
		Screenshot: req.Screenshot,
	})
	if err != nil {
		return "", fmt.Errorf("marshal engine input: %w", err)
	}

	handle, err := s.submitter.CreateWorkItem(ctx, automation.WorkItem{
		ActivityID: s.cfg.Activity,
		Arguments: map[string]automation.Argument{
			"inputJson":  automation.InlineJSON(string(input)),
			outputName:   output,
			"onComplete": {URL: s.completeCallbackURL(clientID, fileName), Verb: automation.VerbPost},
		},
	})
	if err != nil {
		return "", err
	}
	log.Info().
		Str("client_id", clientID).
		Str("output", outputName).
		Str("file", fileName).
		Str("workitem", handle).
		Msg("workitem submitted")
	return handle, nil
}

// SubmitSession starts the long-lived session job. The engine receives
// the first parameter set inline, then loops: pull the next revision from
// the data endpoint, regenerate, publish through the data callbacks.
func (s *Service) SubmitSession(ctx context.Context, clientID string, params json.RawMessage) (string, error) {
	input, err := json.Marshal(engineInput{Params: params, Output: "session"})
	if err != nil {
		return "", fmt.Errorf("marshal engine input: %w", err)
	}

	pngName := clientID + ".png"
	putURL, err := s.store.SignedPutURL(ctx, pngName, s.cfg.UploadTTL)
	if err != nil {
		return "", fmt.Errorf("session png upload url: %w", err)
	}

	handle, err := s.submitter.CreateWorkItem(ctx, automation.WorkItem{
		ActivityID: s.cfg.Activity,
		Arguments: map[string]automation.Argument{
			"inputJson":  automation.InlineJSON(string(input)),
			"nextParams": {URL: s.cfg.CallbackBaseURL + "/data?id=" + url.QueryEscape(clientID), Verb: automation.VerbGet},
			"outputJson": {
				URL:     s.dataCallbackURL("json", clientID, clientID+".json"),
				Verb:    automation.VerbPut,
				Headers: map[string]string{"Content-Type": "application/json"},
			},
			"outputPng":  {URL: putURL, Verb: automation.VerbPut},
			"onComplete": {URL: s.completeCallbackURL(clientID, clientID+".session"), Verb: automation.VerbPost},
		},
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("client_id", clientID).Str("workitem", handle).Msg("session workitem submitted")
	return handle, nil
}

// AwaitNextInput is the session pull: it suspends the remote job's data
// request until the client posts the next revision.
func (s *Service) AwaitNextInput(ctx context.Context, clientID string) (json.RawMessage, error) {
	return s.sessions.AwaitNextInput(ctx, clientID)
}

// OnData routes a mid-run output straight to the client. Nothing is
// retained: the payload is either the structured component data or a
// reference to an already-uploaded picture.
func (s *Service) OnData(clientID, kind, payload string) {
	switch kind {
	case "json":
		s.notifier.Send(clientID, notify.EventComponents, payload)
	case "png":
		s.notifier.Send(clientID, notify.EventPicture, payload)
	default:
		log.Warn().Str("client_id", clientID).Str("kind", kind).Msg("data callback with unknown kind")
	}
}

// OnComplete handles a job termination callback. Per invocation the push
// order is fixed: raw body, then the execution report, then the signed
// URL or translation trigger. Failures along the way are logged and the
// remaining steps still run where they can.
func (s *Service) OnComplete(ctx context.Context, clientID, outputFile string, body []byte) {
	s.notifier.Send(clientID, notify.EventComplete, string(body))

	var cb CompleteCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("malformed completion callback")
		return
	}

	if report := s.fetchReport(ctx, cb.ReportURL); report != "" {
		s.notifier.Send(clientID, notify.EventComplete, report)
	}

	switch {
	case strings.HasSuffix(outputFile, ".png"):
		u, err := s.store.SignedGetURL(ctx, outputFile, s.cfg.SignedReadTTL)
		if err != nil {
			log.Warn().Err(err).Str("client_id", clientID).Str("object", outputFile).Msg("signed picture url failed")
			break
		}
		s.notifier.Send(clientID, notify.EventPicture, u)
	case strings.HasSuffix(outputFile, ".zip"):
		// Detached on purpose: translation runs on the collaborator's
		// clock and must not hold up the callback acknowledgment.
		go func(object string) {
			if err := s.translator.Translate(context.WithoutCancel(ctx), object); err != nil {
				log.Error().Err(err).Str("object", object).Msg("translation trigger failed")
			}
		}(outputFile)
	}

	if s.sessions != nil && cb.ID != "" && s.sessions.Complete(clientID, cb.ID) {
		log.Info().Str("client_id", clientID).Str("workitem", cb.ID).Msg("session completed")
	}
}

// fetchReport pulls the human-readable execution report. Best effort: a
// missing or unreachable report never affects the rest of the callback.
func (s *Service) fetchReport(ctx context.Context, reportURL string) string {
	reportURL = strings.TrimSpace(reportURL)
	if reportURL == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reportURL, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", reportURL).Msg("report request build failed")
		return ""
	}
	resp, err := s.reports.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", reportURL).Msg("report fetch failed")
		return ""
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Warn().Err(err).Str("url", reportURL).Msg("report read failed")
		return ""
	}
	return string(raw)
}

func (s *Service) dataCallbackURL(kind, clientID, fileName string) string {
	return fmt.Sprintf("%s/callback/ondata/%s?id=%s&outputFile=%s",
		s.cfg.CallbackBaseURL, kind, url.QueryEscape(clientID), url.QueryEscape(fileName))
}

func (s *Service) completeCallbackURL(clientID, fileName string) string {
	return fmt.Sprintf("%s/callback/oncomplete?id=%s&outputFile=%s",
		s.cfg.CallbackBaseURL, url.QueryEscape(clientID), url.QueryEscape(fileName))
}

var _ session.Submitter = (*Service)(nil)
