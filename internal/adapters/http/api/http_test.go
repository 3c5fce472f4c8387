package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/okian/trackpick/internal/adapters/http/api"
	service "github.com/okian/trackpick/internal/app"
	"github.com/okian/trackpick/internal/domain/engine"
	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/internal/domain/scoring"
	"github.com/okian/trackpick/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// Mock implementations for testing
type mockDependencies struct {
	mu sync.Mutex

	keys       map[string]string
	nextID     int
	submitErr  error
	submitted  []model.Target
	pending    []model.PendingRequest
	requests   map[string]model.TrackRequest
	results    []engine.IngestResult
	received   []model.Candidate
	ingestErr  error
	outcomeErr error
	outcomes   []model.Outcome
	retireErr  error
	statusErr  error
	commands   []model.Command
	pullErr    error
	pullLimit  int
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{
		keys:     make(map[string]string),
		requests: make(map[string]model.TrackRequest),
	}
}

func (m *mockDependencies) Submit(_ context.Context, target model.Target, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", false, m.submitErr
	}
	if id, ok := m.keys[key]; ok && key != "" {
		return id, true, nil
	}
	m.nextID++
	id := fmt.Sprintf("req-%d", m.nextID)
	if key != "" {
		m.keys[key] = id
	}
	m.submitted = append(m.submitted, target)
	return id, false, nil
}

func (m *mockDependencies) PullPending(context.Context) ([]model.PendingRequest, error) {
	return m.pending, nil
}

func (m *mockDependencies) SubmitCandidates(_ context.Context, id string, cs []model.Candidate) ([]engine.IngestResult, error) {
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	m.mu.Lock()
	m.received = append(m.received, cs...)
	m.mu.Unlock()
	if m.results != nil {
		return m.results, nil
	}
	out := make([]engine.IngestResult, 0, len(cs))
	for _, c := range cs {
		if !c.HasIdentity() {
			out = append(out, engine.IngestResult{CandidateID: c.ID(), Reason: engine.ReasonMalformed, State: model.StatePending})
			continue
		}
		out = append(out, engine.IngestResult{CandidateID: c.ID(), Score: 50, Inserted: true, State: model.StatePending})
	}
	return out, nil
}

func (m *mockDependencies) ReportOutcome(_ context.Context, _, _ string, outcome model.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	return m.outcomeErr
}

func (m *mockDependencies) Get(_ context.Context, id string) (model.TrackRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return model.TrackRequest{}, engine.ErrUnknownRequest
	}
	return r, nil
}

func (m *mockDependencies) Retire(context.Context, string) error { return m.retireErr }

func (m *mockDependencies) Status(context.Context) (model.Status, error) {
	if m.statusErr != nil {
		return model.Status{}, m.statusErr
	}
	return model.Status{PendingCount: 2, CompletedCount: 1}, nil
}

func (m *mockDependencies) PullDispatches(_ context.Context, limit int) ([]model.Command, error) {
	m.pullLimit = limit
	return m.commands, m.pullErr
}

func (m *mockDependencies) ScoreBreakdown(_ model.Target, c model.Candidate) scoring.Breakdown {
	return scoring.Breakdown{Bitrate: c.BitrateKbps / 4, Extension: 10}
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newRouter(deps *mockDependencies) http.Handler {
	return api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}).Routes()
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Routes(t *testing.T) {
	Convey("Given a new API server", t, func() {
		h := newRouter(newMockDependencies())

		Convey("Then the health endpoint answers ok", func() {
			w := do(h, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"ok"`)
		})

		Convey("Then the metrics endpoint is served", func() {
			w := do(h, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then the stats endpoint returns the provider's stats", func() {
			w := do(h, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then the status endpoint returns counts", func() {
			w := do(h, http.MethodGet, "/v1/status", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var st model.Status
			So(json.Unmarshal(w.Body.Bytes(), &st), ShouldBeNil)
			So(st.PendingCount, ShouldEqual, 2)
			So(st.CompletedCount, ShouldEqual, 1)
		})

		Convey("Then unknown routes are not found", func() {
			w := do(h, http.MethodGet, "/v1/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then wrong methods are rejected", func() {
			w := do(h, http.MethodPut, "/v1/status", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestRequestsHandler_Submit(t *testing.T) {
	Convey("Given the submit endpoint", t, func() {
		deps := newMockDependencies()
		h := newRouter(deps)
		body := `{"artist":"Daft Punk","title":"One More Time","extension":"flac"}`

		Convey("When a new request is submitted", func() {
			w := do(h, http.MethodPost, "/v1/requests", body)

			Convey("Then it is created", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(w.Header().Get("Location"), ShouldEqual, "/v1/requests/req-1")
				So(w.Body.String(), ShouldContainSubstring, `"id":"req-1"`)
				So(deps.submitted[0].Extension, ShouldEqual, "flac")
			})
		})

		Convey("When the same idempotency key is sent twice", func() {
			first := do(h, http.MethodPost, "/v1/requests", body, api.IdempotencyHeader, "k1")
			second := do(h, http.MethodPost, "/v1/requests", body, api.IdempotencyHeader, "k1")

			Convey("Then the replay answers 200 with the original id", func() {
				So(first.Code, ShouldEqual, http.StatusCreated)
				So(second.Code, ShouldEqual, http.StatusOK)
				So(second.Body.String(), ShouldContainSubstring, `"id":"req-1"`)
				So(second.Body.String(), ShouldContainSubstring, `"replay":true`)
			})
		})

		Convey("When the key is carried in the body", func() {
			b := `{"artist":"a","title":"t","idempotency_key":"k2"}`
			do(h, http.MethodPost, "/v1/requests", b)
			w := do(h, http.MethodPost, "/v1/requests", b)

			Convey("Then it is honored too", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When the body is malformed", func() {
			w := do(h, http.MethodPost, "/v1/requests", `{"artist":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			})
		})

		Convey("When the body has unknown fields", func() {
			w := do(h, http.MethodPost, "/v1/requests", `{"artist":"a","title":"t","bogus":1}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the service rejects the target", func() {
			deps.submitErr = fmt.Errorf("%w: title is required", engine.ErrInvalidTarget)
			w := do(h, http.MethodPost, "/v1/requests", `{"artist":"a"}`)

			Convey("Then it is reported as an invalid target", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_target")
			})
		})

		Convey("When the service is saturated", func() {
			deps.submitErr = service.ErrBusy
			w := do(h, http.MethodPost, "/v1/requests", body)

			Convey("Then it answers too many requests", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(errorCode(w), ShouldEqual, "busy")
			})
		})
	})
}

func TestRequestsHandler_Lifecycle(t *testing.T) {
	Convey("Given a known request", t, func() {
		deps := newMockDependencies()
		deps.requests["r1"] = model.TrackRequest{ID: "r1", State: model.StateDispatched, Attempts: 1}
		deps.pending = []model.PendingRequest{{ID: "r2", Query: "Daft Punk - One More Time"}}
		h := newRouter(deps)

		Convey("Then it can be fetched", func() {
			w := do(h, http.MethodGet, "/v1/requests/r1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var r model.TrackRequest
			So(json.Unmarshal(w.Body.Bytes(), &r), ShouldBeNil)
			So(r.State, ShouldEqual, model.StateDispatched)
		})

		Convey("Then an unknown id is not found", func() {
			w := do(h, http.MethodGet, "/v1/requests/nope", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "unknown_request")
		})

		Convey("Then the pending list carries the query", func() {
			w := do(h, http.MethodGet, "/v1/requests/pending", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "Daft Punk - One More Time")
		})

		Convey("Then an empty pending list is an empty array", func() {
			deps.pending = nil
			w := do(h, http.MethodGet, "/v1/requests/pending", "")
			So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
		})

		Convey("Then retiring a terminal request answers no content", func() {
			w := do(h, http.MethodDelete, "/v1/requests/r1", "")
			So(w.Code, ShouldEqual, http.StatusNoContent)
		})

		Convey("Then retiring a live request conflicts", func() {
			deps.retireErr = engine.ErrNotTerminal
			w := do(h, http.MethodDelete, "/v1/requests/r1", "")
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(errorCode(w), ShouldEqual, "not_terminal")
		})
	})
}

func TestCandidatesHandler(t *testing.T) {
	Convey("Given the candidates endpoint", t, func() {
		deps := newMockDependencies()
		deps.requests["r1"] = model.TrackRequest{ID: "r1", State: model.StateCompleted}
		h := newRouter(deps)
		batch := `{"candidates":[{"peer":"alice","filename":"one more time.flac","bitrate_kbps":320}]}`

		Convey("When a batch is submitted", func() {
			w := do(h, http.MethodPost, "/v1/requests/r1/candidates", batch)

			Convey("Then it is accepted with per-candidate results", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"inserted":true`)
			})
		})

		Convey("When the request ended already", func() {
			deps.results = []engine.IngestResult{{CandidateID: "c1", Reason: "terminal", State: model.StateCompleted}}
			w := do(h, http.MethodPost, "/v1/requests/r1/candidates", batch)

			Convey("Then the candidate is dropped but the call succeeds", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"reason":"terminal"`)
			})
		})

		Convey("When the batch is empty", func() {
			w := do(h, http.MethodPost, "/v1/requests/r1/candidates", `{"candidates":[]}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When candidates carry unexpected or badly typed fields", func() {
			w := do(h, http.MethodPost, "/v1/requests/r1/candidates", `{"source":"slsk","candidates":[
				{"peer":"alice","filename":"a.flac","codec":"flac","bitrate_kbps":320},
				{"peer":"bob","filename":"b.mp3","bitrate_kbps":"V0"},
				{"peer":"carol","filename":"c.mp3","duration_sec":211.5,"size_bytes":"9000000"},
				{"peer":"dave","filename":"d.mp3","bitrate_kbps":"256 kbps","size_bytes":-5,"duration_sec":{"s":1}}
			]}`)

			Convey("Then the batch is accepted and bad fields count as absent", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(len(deps.received), ShouldEqual, 4)
				So(deps.received[0].BitrateKbps, ShouldEqual, 320)
				So(deps.received[1].BitrateKbps, ShouldEqual, 0)
				So(deps.received[2].DurationSec, ShouldEqual, 211)
				So(deps.received[2].SizeBytes, ShouldEqual, 9_000_000)
				So(deps.received[3].BitrateKbps, ShouldEqual, 256)
				So(deps.received[3].SizeBytes, ShouldEqual, 0)
				So(deps.received[3].DurationSec, ShouldEqual, 0)
			})
		})

		Convey("When some candidates name no peer or file", func() {
			w := do(h, http.MethodPost, "/v1/requests/r1/candidates",
				`{"candidates":[{"filename":"x.mp3"},"junk",null,{"peer":"alice","filename":"ok.mp3"}]}`)

			Convey("Then only those are reported malformed and the rest go through", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var body struct {
					Results []engine.IngestResult `json:"results"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(len(body.Results), ShouldEqual, 4)
				for _, r := range body.Results[:3] {
					So(r.Reason, ShouldEqual, engine.ReasonMalformed)
				}
				So(body.Results[3].Inserted, ShouldBeTrue)
			})
		})

		Convey("When candidates is not a list", func() {
			w := do(h, http.MethodPost, "/v1/requests/r1/candidates", `{"candidates":{"peer":"alice"}}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the request is unknown", func() {
			deps.ingestErr = engine.ErrUnknownRequest
			w := do(h, http.MethodPost, "/v1/requests/nope/candidates", batch)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given the outcome endpoint", t, func() {
		deps := newMockDependencies()
		deps.requests["r1"] = model.TrackRequest{ID: "r1", State: model.StateCompleted}
		h := newRouter(deps)

		Convey("When a success is reported", func() {
			w := do(h, http.MethodPost, "/v1/requests/r1/outcome", `{"candidate_id":"c1","outcome":"success"}`)

			Convey("Then the updated request is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"state":"completed"`)
				So(deps.outcomes, ShouldResemble, []model.Outcome{model.OutcomeSuccess})
			})
		})

		Convey("When the candidate id is missing", func() {
			w := do(h, http.MethodPost, "/v1/requests/r1/outcome", `{"outcome":"success"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the outcome is not valid", func() {
			deps.outcomeErr = engine.ErrInvalidOutcome
			w := do(h, http.MethodPost, "/v1/requests/r1/outcome", `{"candidate_id":"c1","outcome":"maybe"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(errorCode(w), ShouldEqual, "invalid_outcome")
		})

		Convey("When the request is not dispatched", func() {
			deps.outcomeErr = engine.ErrInvalidTransition
			w := do(h, http.MethodPost, "/v1/requests/r1/outcome", `{"candidate_id":"c1","outcome":"failure"}`)
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(errorCode(w), ShouldEqual, "invalid_transition")
		})
	})
}

func TestDispatchesHandler(t *testing.T) {
	Convey("Given the dispatches endpoint", t, func() {
		deps := newMockDependencies()
		deps.commands = []model.Command{{Kind: model.CommandDownload, RequestID: "r1", Attempt: 1}}
		h := newRouter(deps)

		Convey("Then commands are returned", func() {
			w := do(h, http.MethodGet, "/v1/dispatches?limit=5", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.pullLimit, ShouldEqual, 5)
			So(w.Body.String(), ShouldContainSubstring, `"request_id":"r1"`)
		})

		Convey("Then a missing limit uses the cap", func() {
			do(h, http.MethodGet, "/v1/dispatches", "")
			So(deps.pullLimit, ShouldEqual, 1000)
		})

		Convey("Then an oversized limit is capped", func() {
			do(h, http.MethodGet, "/v1/dispatches?limit=50000", "")
			So(deps.pullLimit, ShouldEqual, 1000)
		})

		Convey("Then a bad limit is rejected", func() {
			w := do(h, http.MethodGet, "/v1/dispatches?limit=-1", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then pulling in webhook mode conflicts", func() {
			deps.pullErr = service.ErrPullDisabled
			w := do(h, http.MethodGet, "/v1/dispatches", "")
			So(w.Code, ShouldEqual, http.StatusConflict)
			So(errorCode(w), ShouldEqual, "pull_disabled")
		})
	})

	Convey("Given the score endpoint", t, func() {
		h := newRouter(newMockDependencies())

		Convey("Then a breakdown and total are returned", func() {
			w := do(h, http.MethodPost, "/v1/score", `{"target":{"artist":"a","title":"t"},"candidate":{"peer":"p","filename":"t.flac","bitrate_kbps":320}}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			var body struct {
				CandidateID string `json:"candidate_id"`
				Total       int    `json:"total"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.Total, ShouldEqual, 90)
			So(body.CandidateID, ShouldEqual, model.Candidate{Peer: "p", Filename: "t.flac"}.ID())
		})

		Convey("Then unknown and badly typed candidate fields do not fail the preview", func() {
			w := do(h, http.MethodPost, "/v1/score", `{"target":{"artist":"a","title":"t"},"candidate":{"peer":"p","filename":"t.flac","bitrate_kbps":"320","codec":"flac","duration_sec":"long"}}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			var body struct {
				Total int `json:"total"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
			So(body.Total, ShouldEqual, 90)
		})
	})
}

func TestServer_Unavailable(t *testing.T) {
	Convey("Given a service that is not started", t, func() {
		deps := newMockDependencies()
		deps.statusErr = service.ErrNotStarted
		h := newRouter(deps)

		Convey("Then boundary calls answer service unavailable", func() {
			w := do(h, http.MethodGet, "/v1/status", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(errorCode(w), ShouldEqual, "unavailable")
		})
	})
}

func TestServer_RealService(t *testing.T) {
	Convey("Given the API in front of a started service", t, func() {
		svc := service.New(service.WithWorkerCount(1), service.WithLogger(logger.Nop()))
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()
		h := api.NewServer(svc, svc).Routes()

		Convey("When a request is submitted and given a strong candidate", func() {
			w := do(h, http.MethodPost, "/v1/requests", `{"artist":"Daft Punk","title":"One More Time"}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			var created struct {
				ID string `json:"id"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &created), ShouldBeNil)

			w = do(h, http.MethodPost, "/v1/requests/"+created.ID+"/candidates",
				`{"candidates":[{"peer":"alice","filename":"Daft Punk - One More Time.mp3","bitrate_kbps":320,"size_bytes":9000000}]}`)

			Convey("Then it is dispatched immediately", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"state":"dispatched"`)

				r := do(h, http.MethodGet, "/v1/requests/"+created.ID, "")
				So(r.Body.String(), ShouldContainSubstring, `"commit_reason":"high_confidence"`)
			})
		})

		Convey("When a peer sends a batch with a malformed entry", func() {
			w := do(h, http.MethodPost, "/v1/requests", `{"artist":"Daft Punk","title":"One More Time"}`)
			var created struct {
				ID string `json:"id"`
			}
			So(json.Unmarshal(w.Body.Bytes(), &created), ShouldBeNil)

			w = do(h, http.MethodPost, "/v1/requests/"+created.ID+"/candidates",
				`{"candidates":[{"peer":"","filename":"x.mp3"},{"peer":"bob","filename":"one more time.mp3","bitrate_kbps":"128k","bpm":120}]}`)

			Convey("Then the good candidate joins the shortlist", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Body.String(), ShouldContainSubstring, `"reason":"malformed"`)
				var r model.TrackRequest
				So(json.Unmarshal(do(h, http.MethodGet, "/v1/requests/"+created.ID, "").Body.Bytes(), &r), ShouldBeNil)
				So(len(r.Shortlist), ShouldEqual, 1)
				So(r.Shortlist[0].Candidate.BitrateKbps, ShouldEqual, 128)
			})
		})
	})
}
