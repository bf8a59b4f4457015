//go:build e2e

package e2e

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "test-secret-key-must-be-long-enough"
	testAccessCode = "letmein"
)

type TestServer struct {
	APIAddr   string
	AdminAddr string
	BaseURL   string
	Env       []string
	Cmd       *exec.Cmd
}

func getFreePort(t *testing.T) int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	require.NoError(t, err)

	l, err := net.ListenTCP("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

// startServer runs the built binary with the given gate mode
// and stops it when the test ends.
func startServer(t *testing.T, mode string) *TestServer {
	apiAddr := fmt.Sprintf("localhost:%d", getFreePort(t))
	adminAddr := fmt.Sprintf("localhost:%d", getFreePort(t))
	baseURL := fmt.Sprintf("http://%s", apiAddr)
	dir := t.TempDir()

	env := append(os.Environ(),
		"AUTH_SECRET="+testSecret,
		"GATE_MODE="+mode,
		"ACCESS_CODE="+testAccessCode,
		"API_ADDR="+apiAddr,
		"ADMIN_ADDR="+adminAddr,
		"BASE_URL="+baseURL,
		"DUET_DB="+filepath.Join(dir, "duet.db"),
		"MEDIA_PATH="+filepath.Join(dir, "media"),
		"ADMIN_PASSWORD=",
		"SENDGRID_API_KEY=",
	)

	cmd := exec.Command(serverBinPath)
	cmd.Env = env
	require.NoError(t, cmd.Start())

	s := &TestServer{
		APIAddr:   apiAddr,
		AdminAddr: adminAddr,
		BaseURL:   baseURL,
		Env:       env,
		Cmd:       cmd,
	}
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", apiAddr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return true
		}
		return false
	}, 5*time.Second, 200*time.Millisecond, "Server failed to start")

	return s
}

func (s *TestServer) Stop() {
	if s.Cmd != nil && s.Cmd.Process != nil {
		_ = s.Cmd.Process.Kill()
		_ = s.Cmd.Wait()
	}
}

// ResetLink asks the running server for a reset link through the CLI.
func (s *TestServer) ResetLink(t *testing.T, email string) string {
	cmd := exec.Command(serverBinPath, "-reset-password", email)
	cmd.Env = s.Env

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "Failed to create reset link via CLI: %s", string(output))

	re := regexp.MustCompile(`(http://\S+reset=\S+)`)
	matches := re.FindStringSubmatch(string(output))
	require.Len(t, matches, 2, "Could not find reset link in output: %s", string(output))
	return matches[1]
}

func setupPlaywright(t *testing.T) playwright.Browser {
	pw, err := playwright.Run()
	require.NoError(t, err)

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = browser.Close()
		_ = pw.Stop()
	})
	return browser
}

func newPage(t *testing.T, browser playwright.Browser) playwright.Page {
	context, err := browser.NewContext()
	require.NoError(t, err)
	page, err := context.NewPage()
	require.NoError(t, err)
	return page
}

func waitVisible(t *testing.T, page playwright.Page, selector string) {
	err := page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	})
	require.NoError(t, err, "waiting for %s", selector)
}

func fill(t *testing.T, page playwright.Page, selector, value string) {
	require.NoError(t, page.Locator(selector).Fill(value))
}

func click(t *testing.T, page playwright.Page, selector string) {
	require.NoError(t, page.Locator(selector).First().Click())
}
