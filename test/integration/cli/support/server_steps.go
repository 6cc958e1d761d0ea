package support

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/MeKo-Tech/detmap/internal/evaluation"
	"github.com/MeKo-Tech/detmap/internal/server"
	"github.com/cucumber/godog"
)

// RegisterServerSteps registers the HTTP server step definitions.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the server is configured for (\d+) classes?$`, testCtx.theServerIsConfiguredForClasses)
	sc.Step(`^the server allows (\d+) requests? per minute$`, testCtx.theServerAllowsRequestsPerMinute)
	sc.Step(`^the server is running$`, testCtx.theServerIsRunning)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST to "([^"]*)" with body:$`, testCtx.iPOSTWithBody)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response field "([^"]*)" should be approximately (-?[0-9.]+)$`, testCtx.theResponseFieldShouldBeApproximately)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the response array "([^"]*)" should have (\d+) items?$`, testCtx.theResponseArrayShouldHaveItems)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
}

func (testCtx *TestContext) serverConfig() *server.Config {
	if testCtx.ServerConfig.Evaluation.Format == "" {
		testCtx.ServerConfig.Evaluation = evaluation.DefaultConfig()
		testCtx.ServerConfig.CORSOrigin = "*"
	}
	return &testCtx.ServerConfig
}

func (testCtx *TestContext) theServerIsConfiguredForClasses(n int) error {
	testCtx.serverConfig().Evaluation.NumClasses = n
	return nil
}

func (testCtx *TestContext) theServerAllowsRequestsPerMinute(n int) error {
	cfg := testCtx.serverConfig()
	cfg.RateLimit = server.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: n,
		RequestsPerHour:   n * 60,
		MaxRequestsPerDay: n * 60 * 24,
		MaxDataPerDay:     1 << 30,
	}
	return nil
}

// theServerIsRunning starts the API on an httptest listener.
func (testCtx *TestContext) theServerIsRunning() error {
	s, err := server.NewServer(*testCtx.serverConfig())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	testCtx.TestServer = s
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

// StopServer shuts down the httptest server if one is running.
func (testCtx *TestContext) StopServer() {
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.TestServer != nil {
		_ = testCtx.TestServer.Close()
		testCtx.TestServer = nil
	}
}

func (testCtx *TestContext) iGET(path string) error {
	return testCtx.doRequest(http.MethodGet, path, "")
}

func (testCtx *TestContext) iPOSTWithBody(path string, body *godog.DocString) error {
	return testCtx.doRequest(http.MethodPost, path, body.Content)
}

func (testCtx *TestContext) doRequest(method, path, body string) error {
	if testCtx.HTTPServer == nil {
		return fmt.Errorf("server is not running")
	}

	req, err := http.NewRequest(method, testCtx.HTTPServer.URL+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		testCtx.LastHTTPHeaders[key] = resp.Header.Get(key)
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseFieldShouldBeApproximately(path string, expected float64) error {
	return fieldApproximately(testCtx.LastHTTPResponse, path, expected)
}

func (testCtx *TestContext) theResponseFieldShouldBe(path, expected string) error {
	return fieldEquals(testCtx.LastHTTPResponse, path, expected)
}

func (testCtx *TestContext) theResponseArrayShouldHaveItems(path string, n int) error {
	return arrayLength(testCtx.LastHTTPResponse, path, n)
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != expected {
		return fmt.Errorf("header %s = %q, expected %q", name, got, expected)
	}
	return nil
}
