package task

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhangMonday/jlc-auto-check-in/internal/credential"
	"github.com/zhangMonday/jlc-auto-check-in/internal/result"
)

// apiServer scripts the check-in endpoints for one test.
type apiServer struct {
	t           *testing.T
	balances    []int // consumed in order by balance reads
	balanceIdx  int
	balanceFail int // first N balance calls fail
	haveSignIn  bool
	checkFails  bool
	profileFail bool
	gainNum     int
	claimOK     bool
	signCalls   int
	claimCalls  int
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, success bool, msg string, data any) {
		resp := map[string]any{"success": success, "message": msg}
		if data != nil {
			resp["data"] = data
		}
		_ = json.NewEncoder(w).Encode(resp)
	}

	mux.HandleFunc("/api/appPlatform/center/setting/selectPersonalInfo", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, "WEB", r.Header.Get("x-jlc-clienttype"))
		if s.profileFail {
			write(w, false, "not logged in", nil)
			return
		}
		write(w, true, "", map[string]any{"nickName": "测试用户"})
	})
	mux.HandleFunc("/api/activity/front/getCustomerIntegral", func(w http.ResponseWriter, r *http.Request) {
		if s.balanceFail > 0 {
			s.balanceFail--
			write(w, false, "token expired", nil)
			return
		}
		bal := 0
		if s.balanceIdx < len(s.balances) {
			bal = s.balances[s.balanceIdx]
			s.balanceIdx++
		}
		write(w, true, "", map[string]any{"integralVoucher": bal})
	})
	mux.HandleFunc("/api/activity/sign/getCurrentUserSignInConfig", func(w http.ResponseWriter, r *http.Request) {
		if s.checkFails {
			write(w, false, "server busy", nil)
			return
		}
		write(w, true, "", map[string]any{"haveSignIn": s.haveSignIn})
	})
	mux.HandleFunc("/api/activity/sign/signIn", func(w http.ResponseWriter, r *http.Request) {
		s.signCalls++
		require.Equal(s.t, "4", r.URL.Query().Get("source"))
		write(w, true, "", map[string]any{"gainNum": s.gainNum})
	})
	mux.HandleFunc("/api/activity/sign/receiveVoucher", func(w http.ResponseWriter, r *http.Request) {
		s.claimCalls++
		write(w, s.claimOK, "", nil)
	})
	return mux
}

type fakeRefresher struct {
	calls int
	creds credential.Credentials
	err   error
}

func (f *fakeRefresher) Refresh(context.Context) (credential.Credentials, error) {
	f.calls++
	return f.creds, f.err
}

func newTestClient(t *testing.T, url string, refresher Refresher) *Client {
	t.Helper()
	c := NewClient(Options{
		BaseURL:   url,
		UserAgent: "test-agent",
		Referer:   url,
		Timeout:   2 * time.Second,
	}, credential.Credentials{AccessToken: "tok", SecretKey: "sec"}, 1, refresher, zap.NewNop())
	c.sleep = func(time.Duration) {}
	return c
}

func TestExecuteTask_DirectGain(t *testing.T) {
	srv := &apiServer{t: t, balances: []int{100, 105}, gainNum: 5}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	require.True(t, c.ExecuteTask(context.Background()))

	require.Equal(t, result.StatusSignedSuccess, c.SignStatus())
	require.Equal(t, 100, c.InitialBalance())
	require.Equal(t, 105, c.FinalBalance())
	require.Equal(t, 5, c.RewardDelta())
	require.False(t, c.HadBonusClaim())
	require.Equal(t, "测试用户", c.Nickname())
	require.Zero(t, srv.claimCalls)
}

func TestExecuteTask_VoucherClaim(t *testing.T) {
	srv := &apiServer{t: t, balances: []int{100, 100}, gainNum: 0, claimOK: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	require.True(t, c.ExecuteTask(context.Background()))

	require.Equal(t, result.StatusRewardClaimed, c.SignStatus())
	require.True(t, c.HadBonusClaim())
	require.Zero(t, c.RewardDelta())
	require.Equal(t, 1, srv.claimCalls)
}

func TestExecuteTask_VoucherClaimFails(t *testing.T) {
	srv := &apiServer{t: t, balances: []int{100}, gainNum: 0, claimOK: false}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	require.False(t, c.ExecuteTask(context.Background()))
	require.Equal(t, result.StatusSignFailed, c.SignStatus())
	require.True(t, c.HadBonusClaim())
}

func TestExecuteTask_AlreadySigned(t *testing.T) {
	srv := &apiServer{t: t, balances: []int{100, 100}, haveSignIn: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	require.True(t, c.ExecuteTask(context.Background()))

	require.Equal(t, result.StatusAlreadySigned, c.SignStatus())
	require.Zero(t, srv.signCalls, "sign-in must be skipped when already signed")
}

func TestExecuteTask_CheckFailedAborts(t *testing.T) {
	srv := &apiServer{t: t, balances: []int{100}, checkFails: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	require.False(t, c.ExecuteTask(context.Background()))
	require.Equal(t, result.StatusCheckFailed, c.SignStatus())
	require.Zero(t, srv.signCalls)
}

func TestExecuteTask_ProfileFailureAborts(t *testing.T) {
	srv := &apiServer{t: t, profileFail: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	require.False(t, c.ExecuteTask(context.Background()))
	require.Equal(t, result.NicknameUnknown, c.Nickname())
}

func TestReadBalance_RefreshesSession(t *testing.T) {
	srv := &apiServer{t: t, balances: []int{42}, balanceFail: 2}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	ref := &fakeRefresher{creds: credential.Credentials{AccessToken: "tok-2", SecretKey: "sec-2"}}
	c := newTestClient(t, ts.URL, ref)

	bal := c.ReadBalance(context.Background())
	require.Equal(t, 42, bal)
	require.Equal(t, 2, ref.calls)
	require.Equal(t, "tok-2", c.headers["x-jlc-accesstoken"])
	require.Equal(t, "sec-2", c.headers["secretkey"])
}

func TestReadBalance_ZeroAfterExhaustion(t *testing.T) {
	srv := &apiServer{t: t, balanceFail: 100}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	ref := &fakeRefresher{err: fmt.Errorf("no session")}
	c := newTestClient(t, ts.URL, ref)

	require.Zero(t, c.ReadBalance(context.Background()))
	require.Equal(t, 4, ref.calls, "refresh before every retry but the first call")
}

func TestUpdateCredentials_EmptyKeepsExisting(t *testing.T) {
	c := newTestClient(t, "http://unused", nil)
	c.UpdateCredentials(credential.Credentials{AccessToken: "", SecretKey: "new-sec"})
	require.Equal(t, "tok", c.headers["x-jlc-accesstoken"])
	require.Equal(t, "new-sec", c.headers["secretkey"])
}
