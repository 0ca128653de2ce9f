package tagme_test

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/tagme/tagme"
)

func spotOK(url.Values) (int, any) {
	return http.StatusOK, map[string]any{
		"spots":     []any{},
		"time":      1,
		"lang":      "en",
		"timestamp": sampleStamp,
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := tagme.New(tagme.Config{TagAPI: "ftp://example.com/tag"})
	require.Error(t, err)

	_, err = tagme.New(tagme.Config{MaxPairsPerRequest: -1})
	require.Error(t, err)

	_, err = tagme.New(tagme.Config{LongText: -2})
	require.Error(t, err)

	client, err := tagme.New(tagme.Config{})
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestMissingTokenFailsBeforeRequest(t *testing.T) {
	fake, srv := newFakeTagMe(t, spotOK)
	client := newClient(t, srv, "", nil)
	ctx := context.Background()

	_, err := client.Annotate(ctx, "Obama visited uk")
	require.ErrorIs(t, err, tagme.ErrMissingToken)

	_, err = client.FindMentions(ctx, "Obama visited uk")
	require.ErrorIs(t, err, tagme.ErrMissingToken)

	_, err = client.RelatednessByID(ctx, []tagme.IDPair{{A: 31717, B: 534366}})
	require.ErrorIs(t, err, tagme.ErrMissingToken)

	_, err = client.RelatednessByTitle(ctx, []tagme.TitlePair{{A: "Italy", B: "Germany"}})
	require.ErrorIs(t, err, tagme.ErrMissingToken)

	require.Zero(t, fake.calls())
}

func TestPerCallTokenOverridesDefault(t *testing.T) {
	fake, srv := newFakeTagMe(t, spotOK)
	ctx := context.Background()

	anonymous := newClient(t, srv, "", nil)
	resp, err := anonymous.FindMentions(ctx, "text", tagme.WithToken("per-call"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "per-call", fake.form(0).Get("gcube-token"))

	configured := newClient(t, srv, "default", nil)
	_, err = configured.FindMentions(ctx, "text")
	require.NoError(t, err)
	require.Equal(t, "default", fake.form(1).Get("gcube-token"))

	_, err = configured.FindMentions(ctx, "text", tagme.WithToken("override"), tagme.WithLang("de"))
	require.NoError(t, err)
	require.Equal(t, "override", fake.form(2).Get("gcube-token"))
	require.Equal(t, "de", fake.form(2).Get("lang"))

	_, err = configured.FindMentions(ctx, "text", tagme.WithToken(""))
	require.NoError(t, err)
	require.Equal(t, 4, fake.calls())
	require.Equal(t, "default", fake.form(3).Get("gcube-token"))
}

func TestNonSuccessStatusIsAbsentResult(t *testing.T) {
	fake, srv := newFakeTagMe(t, func(url.Values) (int, any) {
		return http.StatusServiceUnavailable, "service down"
	})
	var logs bytes.Buffer
	client := newClient(t, srv, "token", &logs)

	resp, err := client.FindMentions(context.Background(), "Obama visited uk")
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Equal(t, 1, fake.calls())

	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "status=503")
	require.Contains(t, logs.String(), "service down")
}

func TestTransportErrorIsAbsentResult(t *testing.T) {
	_, srv := newFakeTagMe(t, spotOK)
	var logs bytes.Buffer
	client := newClient(t, srv, "token", &logs)
	srv.Close()

	resp, err := client.Annotate(context.Background(), "Obama visited uk")
	require.NoError(t, err)
	require.Nil(t, resp)
	require.Contains(t, logs.String(), "tagme request failed")
}

func TestCanceledContextIsAnError(t *testing.T) {
	_, srv := newFakeTagMe(t, spotOK)
	client := newClient(t, srv, "token", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := client.FindMentions(ctx, "Obama visited uk")
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, resp)
}

func TestWithEndpointRedirectsCall(t *testing.T) {
	fake, srv := newFakeTagMe(t, spotOK)
	client, err := tagme.New(tagme.Config{Token: "token", SpotAPI: "http://127.0.0.1:1/unreachable"})
	require.NoError(t, err)

	resp, err := client.FindMentions(context.Background(), "text", tagme.WithEndpoint(srv.URL+"/spot"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 1, fake.calls())
}
