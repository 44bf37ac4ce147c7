package paramstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"

	"therapy-service/internal/config"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	calls  int
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.lastIn = in
	return f.getOut, f.getErr
}

const overlayDoc = "tables:\n  sessions: sessions-prod\nbatchSize: 10\n"

func overlayAPI() *fakeAPI {
	return &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: aws.String("/therapy/config"), Value: aws.String(overlayDoc), Type: types.ParameterTypeSecureString,
	}}}
}

var _ config.ParameterGetter = (*Client)(nil)

func TestGetParameter_HappyPath(t *testing.T) {
	api := overlayAPI()
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " /therapy/config ")
	require.NoError(t, err)
	require.Equal(t, overlayDoc, v)
	require.Equal(t, "/therapy/config", aws.ToString(api.lastIn.Name))
	require.True(t, aws.ToBool(api.lastIn.WithDecryption))
}

func TestGetParameter_CachesWithinTTL(t *testing.T) {
	api := overlayAPI()
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	client, err := New(api, WithTTL(time.Minute))
	require.NoError(t, err)
	client.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := client.GetParameter(context.Background(), "/therapy/config")
		require.NoError(t, err)
	}
	require.Equal(t, 1, api.calls)

	now = now.Add(time.Minute)
	_, err = client.GetParameter(context.Background(), "/therapy/config")
	require.NoError(t, err)
	require.Equal(t, 2, api.calls)
}

func TestGetParameter_ZeroTTLDisablesCache(t *testing.T) {
	api := overlayAPI()
	client, err := New(api, WithTTL(0))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := client.GetParameter(context.Background(), "/therapy/config")
		require.NoError(t, err)
	}
	require.Equal(t, 2, api.calls)
}

func TestGetParameter_ErrorsAreNotCached(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("throttled")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "throttled")

	api.getErr, api.getOut = nil, overlayAPI().getOut
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, overlayDoc, v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: aws.String("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestOverlayThroughParamstore(t *testing.T) {
	client, err := New(overlayAPI())
	require.NoError(t, err)

	base, err := config.FromEnv(func(key string) string {
		return map[string]string{
			"MAPPING_REQUESTS_TABLE":        "mapping",
			"JOURNAL_ACCESS_REQUESTS_TABLE": "journal",
			"APPOINTMENT_REQUESTS_TABLE":    "appointments",
			"MAPPED_THERAPISTS_TABLE":       "mapped",
			"SESSION_SLOTS_TABLE":           "slots",
			"SESSIONS_TABLE":                "sessions",
		}[key]
	})
	require.NoError(t, err)

	merged, err := base.ApplyOverlay(context.Background(), client, "/therapy/config")
	require.NoError(t, err)
	require.Equal(t, "sessions-prod", merged.Tables.Sessions)
	require.Equal(t, "mapping", merged.Tables.MappingRequests)
	require.Equal(t, 10, merged.BatchSize)
}
