package app

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	"github.com/billsplit/billsplit/internal/session"
	"github.com/billsplit/billsplit/internal/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, auth, NewMetrics(), http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		service = newTestService(db, storage, newMockScanner(), session.Config{})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	do := func(method, path string, body any) *http.Response {
		var r io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			r = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, r)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
	}

	upload := func(files map[string]string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for name, content := range files {
			fw, err := mw.CreateFormFile("file", name)
			Expect(err).NotTo(HaveOccurred())
			fw.Write([]byte(content))
		}
		Expect(mw.Close()).To(Succeed())
		resp, err := http.Post(ghttpServer.URL()+"/api/session/scan", mw.FormDataContentType(), &buf)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("GET /api/session", func() {
		It("should return a capture session", func() {
			resp := do("GET", "/api/session", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var view SessionView
			decode(resp, &view)
			Expect(view.Phase).To(Equal(session.PhaseCapture))
		})

		It("should set CORS headers", func() {
			resp := do("OPTIONS", "/api/session", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("POST /api/session/scan", func() {
		When("the upload is a receipt", func() {
			It("should start assignment", func() {
				resp := upload(map[string]string{"receipt.jpg": "pizza"})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var view SessionView
				decode(resp, &view)
				Expect(view.Phase).To(Equal(session.PhaseAssignment))
				Expect(view.Receipt.Items).To(HaveLen(2))
			})
		})

		When("the upload is not a receipt", func() {
			It("should return the rejection message", func() {
				resp := upload(map[string]string{"cat.jpg": "cat"})
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(Equal("This doesn't appear to be a receipt or bill. Please scan a valid receipt."))
			})
		})

		When("no file is sent", func() {
			It("should return bad request", func() {
				resp := upload(map[string]string{})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("assignment flow", func() {
		var view SessionView

		BeforeEach(func() {
			view = SessionView{}
			decode(do("POST", "/api/session/people", map[string]string{"name": "Ann"}), &view)
			decode(do("POST", "/api/session/people", map[string]string{"name": "Ben"}), &view)
			decode(do("POST", "/api/session/receipt", map[string]any{
				"items": []map[string]any{
					{"description": "Pizza", "price": 20},
					{"description": "Salad", "price": 10},
				},
				"tax": 3,
				"tip": 6,
			}), &view)
			Expect(view.Phase).To(Equal(session.PhaseAssignment))
		})

		It("should send amounts as JSON numbers", func() {
			resp := do("GET", "/api/session", nil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`"total":39`))
		})

		It("should reject a blank name", func() {
			resp := do("POST", "/api/session/people", map[string]string{"name": "  "})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should toggle an assignment", func() {
			path := "/api/session/items/" + view.Receipt.Items[0].ID + "/people/" + view.People[0].ID
			resp := do("POST", path, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.Receipt.Items[0].AssignedTo).To(Equal([]string{view.People[0].ID}))
			Expect(view.Assigned).To(Equal(1))
		})

		It("should return not found for unknown ids", func() {
			resp := do("POST", "/api/session/items/nope/people/"+view.People[0].ID, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return conflict with the first unassigned item", func() {
			resp := do("POST", "/api/session/settle", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			var body map[string]any
			decode(resp, &body)
			Expect(body["first_unassigned"]).To(BeNumerically("==", 0))
		})

		It("should settle an equal split", func() {
			resp := do("POST", "/api/session/split", map[string]string{"mode": "equal"})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("POST", "/api/session/settle", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &view)
			Expect(view.Phase).To(Equal(session.PhaseSettlement))
			Expect(view.Settlement.Shares).To(HaveLen(2))
			Expect(view.Settlement.Shares[0].Display).To(Equal("$19.50"))
		})

		It("should reject an unknown split mode", func() {
			resp := do("POST", "/api/session/split", map[string]string{"mode": "half"})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should not go back from assignment", func() {
			resp := do("POST", "/api/session/back", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should save and list history", func() {
			resp := do("POST", "/api/session/save", map[string]string{"title": "Dinner"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var saved store.SavedReceipt
			decode(resp, &saved)
			Expect(saved.Receipt.Title).To(Equal("Dinner"))

			var list []store.SavedReceipt
			decode(do("GET", "/api/receipts", nil), &list)
			Expect(list).To(HaveLen(1))

			resp = do("DELETE", "/api/receipts/"+saved.ID, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("GET", "/api/receipts/"+saved.ID, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should save without a body", func() {
			resp := do("POST", "/api/session/save", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should save a chunked request with an empty body", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/session/save", io.MultiReader())
			Expect(err).NotTo(HaveOccurred())
			req.ContentLength = -1
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		})

		It("should reject a malformed body", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/session/save", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reset to capture", func() {
			resp := do("POST", "/api/session/reset", nil)
			decode(resp, &view)
			Expect(view.Phase).To(Equal(session.PhaseCapture))
			Expect(view.People).To(HaveLen(2))
		})

		It("should suggest recent names not on the roster", func() {
			resp := do("DELETE", "/api/session/people/"+view.People[1].ID, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var names []string
			decode(do("GET", "/api/session/suggestions?q=b", nil), &names)
			Expect(names).To(Equal([]string{"Ben"}))
		})
	})

	Describe("groups and preferences", func() {
		It("should save, set default and load a group", func() {
			do("POST", "/api/session/people", map[string]string{"name": "Ann"}).Body.Close()

			resp := do("POST", "/api/groups", map[string]string{"name": "Team"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var group struct {
				ID string `json:"id"`
			}
			decode(resp, &group)

			resp = do("PUT", "/api/preferences", map[string]string{"default_group_id": group.ID})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var prefs map[string]string
			decode(do("GET", "/api/preferences", nil), &prefs)
			Expect(prefs["default_group_id"]).To(Equal(group.ID))

			resp = do("POST", "/api/groups/"+group.ID+"/load", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do("DELETE", "/api/groups/"+group.ID, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("should return not found for a missing group", func() {
			resp := do("POST", "/api/groups/missing/load", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /metrics", func() {
		It("should expose request metrics", func() {
			do("GET", "/api/session", nil).Body.Close()
			resp := do("GET", "/metrics", nil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("billsplit_http_request_duration_seconds"))
			Expect(string(body)).To(ContainSubstring(`code="200",route="GET /api/session"`))
		})

		It("should label failed requests with their code", func() {
			do("POST", "/api/session/settle", nil).Body.Close()
			resp := do("GET", "/metrics", nil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`code="409",route="POST /api/session/settle"`))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "ann", Password: "secret"}
			setupServer()
		})

		It("should reject missing credentials", func() {
			resp := do("GET", "/api/session", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should scope the session to the user", func() {
			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/session/people", strings.NewReader(`{"name":"Zed"}`))
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("ann", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Expect(service.Session("ann").People).To(HaveLen(1))
			Expect(service.Session(LocalUser).People).To(BeEmpty())
		})
	})
})
