package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var baseURL string
var stopApp func()

var _ = BeforeSuite(func() {
	if u := os.Getenv("INTEGRATION_BASE_URL"); u != "" {
		baseURL = strings.TrimSuffix(u, "/")
		return
	}
	var err error
	baseURL, stopApp, err = StartApp()
	Expect(err).NotTo(HaveOccurred())
	Expect(baseURL).NotTo(BeEmpty())
})

var _ = AfterSuite(func() {
	if stopApp != nil {
		stopApp()
	}
})

func authedRequest(method, path, body, token string) *http.Request {
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, baseURL+path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, baseURL+path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

var _ = Describe("Integration", func() {
	Describe("Unprotected endpoints", func() {
		It("GET /health returns 200 and status ok", func() {
			resp, err := http.Get(baseURL + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&body)).NotTo(HaveOccurred())
			Expect(body["status"]).To(Equal("ok"))
			Expect(body).To(HaveKey("version"))
		})

		It("GET /version returns 200 and version in JSON", func() {
			resp, err := http.Get(baseURL + "/version")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("application/json"))
			var body map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&body)).NotTo(HaveOccurred())
			Expect(body).To(HaveKey("version"))
		})

		It("GET /metrics returns 200 and Prometheus output", func() {
			resp, err := http.Get(baseURL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring("gantry"))
		})
	})

	Describe("Task endpoints require auth", func() {
		It("GET /v1/tasks without Authorization returns 401", func() {
			resp, err := http.Get(baseURL + "/v1/tasks")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("GET /v1/tasks with invalid key returns 401", func() {
			resp, err := http.DefaultClient.Do(authedRequest(http.MethodGet, "/v1/tasks", "", "sk-wrong-key"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("Task lifecycle", func() {
		It("creates, fetches, and lists a task", func() {
			resp, err := http.DefaultClient.Do(authedRequest(http.MethodPost, "/v1/tasks",
				`{"name":"integration smoke","priority":2}`, "sk-it-user"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var created struct {
				ID        string `json:"id"`
				CreatedBy string `json:"created_by"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&created)).NotTo(HaveOccurred())
			Expect(created.ID).NotTo(BeEmpty())
			Expect(created.CreatedBy).To(Equal("u-it-user"))

			get, err := http.DefaultClient.Do(authedRequest(http.MethodGet, "/v1/tasks/"+created.ID, "", "sk-it-user"))
			Expect(err).NotTo(HaveOccurred())
			defer get.Body.Close()
			Expect(get.StatusCode).To(Equal(http.StatusOK))
			Expect(get.Header.Get("X-RateLimit-Limit")).NotTo(BeEmpty())
			Expect(get.Header.Get("X-Request-ID")).NotTo(BeEmpty())

			list, err := http.DefaultClient.Do(authedRequest(http.MethodGet, "/v1/tasks", "", "sk-it-user"))
			Expect(err).NotTo(HaveOccurred())
			defer list.Body.Close()
			Expect(list.StatusCode).To(Equal(http.StatusOK))
		})

		It("rejects an invalid body with namespaced field errors", func() {
			resp, err := http.DefaultClient.Do(authedRequest(http.MethodPost, "/v1/tasks",
				`{"priority":9}`, "sk-it-user"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring("Validation failed"))
			Expect(string(body)).To(ContainSubstring("body.name"))
			Expect(string(body)).To(ContainSubstring("body.priority"))
		})

		It("fetching a missing task returns a normalized 404", func() {
			resp, err := http.DefaultClient.Do(authedRequest(http.MethodGet, "/v1/tasks/does-not-exist", "", "sk-it-user"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring("Task not found"))
		})
	})

	Describe("Search", func() {
		It("allows anonymous callers", func() {
			resp, err := http.Get(baseURL + "/v1/search?q=smoke")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("requires the q parameter", func() {
			resp, err := http.Get(baseURL + "/v1/search")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Admin endpoint", func() {
		It("rejects non-admin users with 403", func() {
			resp, err := http.DefaultClient.Do(authedRequest(http.MethodGet, "/v1/admin/stats", "", "sk-it-user"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("serves stats to allow-listed admins", func() {
			resp, err := http.DefaultClient.Do(authedRequest(http.MethodGet, "/v1/admin/stats", "", "sk-it-admin"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var stats map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).NotTo(HaveOccurred())
			Expect(stats).To(HaveKey("tasks_by_status"))
			Expect(stats["requested_by"]).To(Equal("u-it-admin"))
		})
	})

	Describe("CORS", func() {
		It("answers preflights on any route", func() {
			req, _ := http.NewRequest(http.MethodOptions, baseURL+"/v1/tasks", nil)
			req.Header.Set("Origin", "https://app.example.com")
			req.Header.Set("Access-Control-Request-Method", "POST")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
		})

		It("keeps CORS headers on error responses", func() {
			req := authedRequest(http.MethodGet, "/v1/tasks", "", "")
			req.Header.Set("Origin", "https://app.example.com")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).NotTo(BeEmpty())
		})
	})
})
