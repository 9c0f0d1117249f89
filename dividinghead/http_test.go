package dividinghead

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.viam.com/test"
)

func getJSON(t *testing.T, h http.Handler, target string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]interface{}
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &body), test.ShouldBeNil)
	return rec.Code, body
}

func TestRouter(t *testing.T) {
	d, e, driver := newTestDispatcher(t)
	h := newRouter(d)

	code, body := getJSON(t, h, "/api/status")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, body["status"], test.ShouldEqual, "ok")
	status := body["data"].(map[string]interface{})
	test.That(t, status["resolution"], test.ShouldEqual, resolution)
	test.That(t, status["enabled"], test.ShouldBeTrue)

	code, body = getJSON(t, h, "/api/move?angle=370&rpm=90")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, body["actual_angle"], test.ShouldAlmostEqual, 370.0125, 1e-9)
	test.That(t, body["current_rpm"], test.ShouldEqual, 90)
	test.That(t, driver.pulses, test.ShouldEqual, 3289)

	code, body = getJSON(t, h, "/api/move?angle=abc")
	test.That(t, code, test.ShouldEqual, http.StatusOK)
	test.That(t, body["status"], test.ShouldEqual, "error")
	test.That(t, body["message"], test.ShouldStartWith, "parameter error: ")

	_, body = getJSON(t, h, "/api/reset")
	test.That(t, body["current_angle"], test.ShouldEqual, 0)
	test.That(t, e.CurrentAngle(), test.ShouldEqual, 0)

	_, body = getJSON(t, h, "/api/divide?divisions=8")
	test.That(t, body["divisions"], test.ShouldEqual, 8)
	test.That(t, body["angle_per_division"], test.ShouldEqual, 45)
	test.That(t, body["current_angle"], test.ShouldEqual, 45)

	_, body = getJSON(t, h, "/api/emergency_stop")
	test.That(t, body["enabled"], test.ShouldBeFalse)
	_, body = getJSON(t, h, "/api/divide?divisions=8")
	test.That(t, body["status"], test.ShouldEqual, "error")
	_, body = getJSON(t, h, "/api/enable_motor")
	test.That(t, body["enabled"], test.ShouldBeTrue)

	code, body = getJSON(t, h, "/api/home")
	test.That(t, code, test.ShouldEqual, http.StatusNotFound)
	test.That(t, body["message"], test.ShouldEqual, "invalid endpoint")
}

func TestRouterNoCache(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	rec := httptest.NewRecorder()
	newRouter(d).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	test.That(t, rec.Header().Get("Cache-Control"), test.ShouldEqual, "no-store, max-age=0")
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldStartWith, "application/json")
}
