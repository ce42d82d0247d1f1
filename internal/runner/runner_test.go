package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhangMonday/jlc-auto-check-in/internal/browser"
	"github.com/zhangMonday/jlc-auto-check-in/internal/credential"
	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
	"github.com/zhangMonday/jlc-auto-check-in/internal/task"
)

// fakeDriver scripts a login flow. The current URL changes when the submit
// button is clicked, mimicking the passport redirect.
type fakeDriver struct {
	url            string
	urlAfterSubmit string

	typed           map[string]string
	clicked         []string
	clickedText     []string
	errorTexts      map[string][]string
	sliderErr       error
	navErr          error
	closed          bool
	panicOnInteract bool
}

func newFakeDriver(url string) *fakeDriver {
	return &fakeDriver{
		url:        url,
		typed:      map[string]string{},
		errorTexts: map[string][]string{},
	}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error { return d.navErr }
func (d *fakeDriver) Reload(ctx context.Context) error               { return nil }

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return d.url, nil }

func (d *fakeDriver) WaitURL(ctx context.Context, timeout time.Duration, match func(string) bool) bool {
	return match(d.url)
}

func (d *fakeDriver) WaitElement(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string, timeout time.Duration) error {
	d.clicked = append(d.clicked, selector)
	if selector == submitButton && d.urlAfterSubmit != "" {
		d.url = d.urlAfterSubmit
	}
	return nil
}

func (d *fakeDriver) ClickText(ctx context.Context, selector, textRegex string, timeout time.Duration) error {
	d.clickedText = append(d.clickedText, textRegex)
	return nil
}

func (d *fakeDriver) TypeInto(ctx context.Context, selector, text string, timeout time.Duration) error {
	d.typed[selector] = text
	return nil
}

func (d *fakeDriver) DragSlider(ctx context.Context, handleSelector, trackSelector string, timeout time.Duration) error {
	return d.sliderErr
}

func (d *fakeDriver) ElementTexts(ctx context.Context, selector string) ([]string, error) {
	return d.errorTexts[selector], nil
}

func (d *fakeDriver) Interact(ctx context.Context) error {
	if d.panicOnInteract {
		panic("detached frame")
	}
	return nil
}

func (d *fakeDriver) ReadStorage(ctx context.Context, key string) (string, error) { return "", nil }
func (d *fakeDriver) CapturedRequests() []browser.CapturedRequest                 { return nil }
func (d *fakeDriver) Close()                                                      { d.closed = true }

type fakeCreds struct {
	creds    credential.Credentials
	tokenOK  bool
	secretOK bool
}

func (f *fakeCreds) Extract(ctx context.Context, ps credential.PageState) (credential.Credentials, bool, bool) {
	return f.creds, f.tokenOK, f.secretOK
}

type fakeTask struct {
	succeed  bool
	status   result.SignStatus
	nickname string
	initial  int
	final    int
	delta    int
	bonus    bool
	ran      bool
}

func (f *fakeTask) ExecuteTask(ctx context.Context) bool { f.ran = true; return f.succeed }
func (f *fakeTask) Nickname() string                     { return f.nickname }
func (f *fakeTask) InitialBalance() int                  { return f.initial }
func (f *fakeTask) FinalBalance() int                    { return f.final }
func (f *fakeTask) RewardDelta() int                     { return f.delta }
func (f *fakeTask) SignStatus() result.SignStatus        { return f.status }
func (f *fakeTask) HadBonusClaim() bool                  { return f.bonus }

func newTestRunner(t *testing.T, drv Driver, creds CredentialSource, tk *fakeTask) *Runner {
	t.Helper()
	r := New(DefaultConfig(),
		func(ctx context.Context) (Driver, error) { return drv, nil },
		creds,
		func(credential.Credentials, int, task.Refresher) TaskExecutor { return tk },
		zaptest.NewLogger(t))
	r.sleep = func(time.Duration) {}
	return r
}

func TestRunAttempt_SessionAlreadyActive(t *testing.T) {
	drv := newFakeDriver("https://m.jlc.com/mapp/pages/my/index")
	creds := &fakeCreds{creds: credential.Credentials{AccessToken: "tok", SecretKey: "sec"}, tokenOK: true, secretOK: true}
	tk := &fakeTask{succeed: true, status: result.StatusSignedSuccess, nickname: "测试", initial: 100, final: 105, delta: 5}

	res := newTestRunner(t, drv, creds, tk).RunAttempt(context.Background(), result.Account{Index: 1, Username: "u", Password: "p"}, 0, false)

	require.True(t, res.TaskSucceeded)
	assert.Equal(t, result.StatusSignedSuccess, res.SignStatus)
	assert.Equal(t, "测试", res.Nickname)
	assert.Equal(t, 5, res.RewardDelta)
	assert.True(t, res.TokenExtracted)
	assert.True(t, res.SecretExtracted)
	assert.True(t, tk.ran)
	assert.True(t, drv.closed)
	// No login UI touched when the session is live.
	assert.Empty(t, drv.typed)
}

func TestRunAttempt_LoginThenSuccess(t *testing.T) {
	drv := newFakeDriver("https://passport.jlc.com/login?redirect=x")
	drv.urlAfterSubmit = "https://m.jlc.com/mapp/pages/my/index"
	drv.sliderErr = browser.ErrElementNotFound
	creds := &fakeCreds{creds: credential.Credentials{AccessToken: "tok", SecretKey: "sec"}, tokenOK: true, secretOK: true}
	tk := &fakeTask{succeed: true, status: result.StatusAlreadySigned}

	res := newTestRunner(t, drv, creds, tk).RunAttempt(context.Background(), result.Account{Index: 1, Username: "user1", Password: "pw1"}, 2, false)

	require.True(t, res.TaskSucceeded)
	assert.Equal(t, result.StatusAlreadySigned, res.SignStatus)
	assert.Equal(t, "user1", drv.typed[usernameInput])
	assert.Equal(t, "pw1", drv.typed[passwordInput])
	assert.Contains(t, drv.clicked, submitButton)
	assert.Contains(t, drv.clickedText, accountLoginTxt)
	assert.True(t, drv.closed)
}

func TestRunAttempt_PasswordErrorIsPermanent(t *testing.T) {
	drv := newFakeDriver("https://passport.jlc.com/login")
	drv.errorTexts[".toast"] = []string{"账号或密码不正确"}
	tk := &fakeTask{}

	res := newTestRunner(t, drv, &fakeCreds{}, tk).RunAttempt(context.Background(), result.Account{Index: 2}, 0, false)

	assert.True(t, res.PermanentCredentialError)
	assert.False(t, res.TaskSucceeded)
	assert.Equal(t, result.StatusUnknown, res.SignStatus)
	assert.False(t, tk.ran)
	assert.True(t, drv.closed)
}

func TestRunAttempt_RedirectTimeout(t *testing.T) {
	drv := newFakeDriver("https://passport.jlc.com/login")
	// Submit never leaves the login domain.
	tk := &fakeTask{}

	res := newTestRunner(t, drv, &fakeCreds{}, tk).RunAttempt(context.Background(), result.Account{Index: 1}, 0, false)

	assert.Equal(t, result.StatusRedirectTimeout, res.SignStatus)
	assert.False(t, tk.ran)
}

func TestRunAttempt_ExtractionFailure(t *testing.T) {
	drv := newFakeDriver("https://m.jlc.com/mapp/pages/my/index")
	creds := &fakeCreds{tokenOK: true, secretOK: false}
	tk := &fakeTask{}

	res := newTestRunner(t, drv, creds, tk).RunAttempt(context.Background(), result.Account{Index: 1}, 0, false)

	assert.Equal(t, result.StatusTokenExtractionFailed, res.SignStatus)
	assert.True(t, res.TokenExtracted)
	assert.False(t, res.SecretExtracted)
	assert.False(t, tk.ran)
}

func TestRunAttempt_DriverFactoryFailure(t *testing.T) {
	r := New(DefaultConfig(),
		func(ctx context.Context) (Driver, error) { return nil, context.DeadlineExceeded },
		&fakeCreds{},
		func(credential.Credentials, int, task.Refresher) TaskExecutor { return &fakeTask{} },
		zaptest.NewLogger(t))
	r.sleep = func(time.Duration) {}

	res := r.RunAttempt(context.Background(), result.Account{Index: 1}, 0, false)

	assert.Equal(t, result.StatusException, res.SignStatus)
}

func TestRunAttempt_PanicBecomesException(t *testing.T) {
	drv := newFakeDriver("https://m.jlc.com/mapp/pages/my/index")
	drv.panicOnInteract = true
	tk := &fakeTask{}

	res := newTestRunner(t, drv, &fakeCreds{}, tk).RunAttempt(context.Background(), result.Account{Index: 3}, 1, true)

	assert.Equal(t, result.StatusException, res.SignStatus)
	assert.False(t, res.TaskSucceeded)
	assert.True(t, drv.closed, "session must be released even on panic")
	assert.Equal(t, 3, res.AccountIndex)
	assert.True(t, res.FinalPass)
}

func TestSessionRefresher(t *testing.T) {
	drv := newFakeDriver("https://m.jlc.com/")
	r := newTestRunner(t, drv, &fakeCreds{
		creds: credential.Credentials{AccessToken: "t2", SecretKey: "s2"}, tokenOK: true, secretOK: true,
	}, &fakeTask{})

	ref := &sessionRefresher{runner: r, driver: drv}
	creds, err := ref.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t2", creds.AccessToken)
	assert.Equal(t, "s2", creds.SecretKey)
}
