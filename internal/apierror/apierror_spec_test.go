package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Error", func() {
	It("implements error interface with message", func() {
		e := NotFound("task not found")
		Expect(e.Error()).To(Equal("task not found"))
	})
})

var _ = Describe("Write", func() {
	It("writes the {error, details, timestamp} envelope", func() {
		e := Validation("Validation failed", []map[string]any{{"field": "name"}})
		rec := httptest.NewRecorder()
		Write(rec, e)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		var body map[string]any
		Expect(json.NewDecoder(rec.Body).Decode(&body)).NotTo(HaveOccurred())
		Expect(body["error"]).To(Equal("Validation failed"))
		Expect(body).To(HaveKey("details"))
		Expect(body).To(HaveKey("timestamp"))
		Expect(body).NotTo(HaveKey("stack"))
	})

	It("omits details when not set", func() {
		rec := httptest.NewRecorder()
		Write(rec, Unauthorized("Authentication required"))

		var body map[string]any
		Expect(json.NewDecoder(rec.Body).Decode(&body)).NotTo(HaveOccurred())
		Expect(body).NotTo(HaveKey("details"))
	})
})

var _ = Describe("Constructors", func() {
	It("map kinds to canonical status codes", func() {
		Expect(Validation("v", nil).Status).To(Equal(http.StatusBadRequest))
		Expect(Unauthorized("u").Status).To(Equal(http.StatusUnauthorized))
		Expect(Forbidden("f").Status).To(Equal(http.StatusForbidden))
		Expect(NotFound("n").Status).To(Equal(http.StatusNotFound))
		Expect(Conflict("c").Status).To(Equal(http.StatusConflict))
		Expect(RateLimited().Status).To(Equal(http.StatusTooManyRequests))
		Expect(Internal("i").Status).To(Equal(http.StatusInternalServerError))
	})

	It("tag kinds correctly", func() {
		Expect(Validation("v", nil).Kind).To(Equal(KindValidation))
		Expect(RateLimited().Kind).To(Equal(KindRateLimit))
		Expect(Internal("i").Kind).To(Equal(KindInternal))
	})
})

var _ = Describe("FromError", func() {
	It("passes typed errors through unchanged", func() {
		e := Conflict("email already registered")
		Expect(FromError(e)).To(BeIdenticalTo(e))
	})

	It("unwraps typed errors inside wrapped chains", func() {
		wrapped := fmt.Errorf("create user: %w", Conflict("email already registered"))
		got := FromError(wrapped)
		Expect(got.Kind).To(Equal(KindConflict))
		Expect(got.Message).To(Equal("email already registered"))
	})

	DescribeTable("legacy substring classification",
		func(msg string, wantKind Kind, wantStatus int) {
			got := FromError(errors.New(msg))
			Expect(got.Kind).To(Equal(wantKind))
			Expect(got.Status).To(Equal(wantStatus))
		},
		Entry("duplicate key", `pq: duplicate key value violates unique constraint`, KindConflict, 409),
		Entry("foreign key", `pq: insert violates foreign key constraint`, KindValidation, 400),
		Entry("not found", "row not found", KindNotFound, 404),
		Entry("unauthorized", "request was Unauthorized", KindAuthentication, 401),
		Entry("forbidden", "operation forbidden by policy", KindAuthorization, 403),
		Entry("rate limit", "upstream rate limit hit", KindRateLimit, 429),
	)

	It("defaults to a sanitized 500", func() {
		got := FromError(errors.New("pgx: connection refused to 10.0.0.5:5432"))
		Expect(got.Status).To(Equal(http.StatusInternalServerError))
		Expect(got.Message).To(Equal("An unexpected error occurred."))
	})
})

var _ = Describe("FromPanic", func() {
	It("classifies error panics", func() {
		got := FromPanic(error(NotFound("gone")))
		Expect(got.Status).To(Equal(http.StatusNotFound))
	})

	It("never leaks non-error panic values", func() {
		got := FromPanic("index out of range [3] with length 2")
		Expect(got.Status).To(Equal(http.StatusInternalServerError))
		Expect(got.Message).To(Equal("An unexpected error occurred."))
	})
})
