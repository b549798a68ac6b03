package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/blingmoon/netflow-triage/detector"
	"github.com/blingmoon/netflow-triage/internal/commonregister"
	"github.com/blingmoon/netflow-triage/internal/config"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type predictorFunc func(ctx context.Context, req *detector.PredictReq) (*detector.BatchResult, error)

func (f predictorFunc) Predict(ctx context.Context, req *detector.PredictReq) (*detector.BatchResult, error) {
	return f(ctx, req)
}

var testServerConfig = config.Server{Bind: "127.0.0.1:0", ReadTimeoutSeconds: 5, MaxUploadMB: 1}

func newTestServer(t *testing.T, predictor batchPredictor) *httptest.Server {
	if predictor == nil {
		p, err := detector.NewPredictor(detector.DefaultConfig(commonregister.Features),
			commonregister.NewBinaryForest(), commonregister.NewMultiForest())
		require.NoError(t, err)
		predictor = p
	}
	ts := httptest.NewServer(newAPIServer(testServerConfig, predictor, nil).handler())
	t.Cleanup(ts.Close)
	return ts
}

func postCSV(t *testing.T, url string, filename string, body string) *http.Response {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	resp, err := http.Post(url, w.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	defer resp.Body.Close()
	payload := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

const flowsCSV = "Destination Port,Flow Duration,Total Fwd Packets,Total Backward Packets\n443,120,3,2\n80,50000,5000,0\n"

func TestServer_PredictLabels(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postCSV(t, ts.URL+"/predict_labels", "flows.csv", flowsCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeResponse(t, resp)
	assert.Equal(t, []any{commonregister.LabelBenign, commonregister.LabelDoS}, payload["labels"])
	assert.NotContains(t, payload, "probabilities")
	assert.NotContains(t, payload, "errors")
	assert.NotEmpty(t, payload["batch_id"])

	t.Run("input_data表单", func(t *testing.T) {
		form := url.Values{"input_data": {`{"data":[{"Destination Port":22,"Flow Duration":2000,"Total Fwd Packets":1}]}`}}
		resp, err := http.PostForm(ts.URL+"/predict_labels", form)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{commonregister.LabelPortScan}, decodeResponse(t, resp)["labels"])
	})

	t.Run("json请求体", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/predict_labels", "application/json",
			strings.NewReader(`[{"Flow Duration": 10}, {"Flow Duration": 5000, "Total Fwd Packets": 500}]`))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []any{commonregister.LabelBenign, commonregister.LabelDoS}, decodeResponse(t, resp)["labels"])
	})
}

func TestServer_PredictProba(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := postCSV(t, ts.URL+"/predict_proba", "flows.csv", flowsCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeResponse(t, resp)
	probs, ok := payload["probabilities"].([]any)
	require.True(t, ok)
	require.Len(t, probs, 2)
	assert.InDelta(t, 0.9, probs[0], 1e-9)
	assert.InDelta(t, 1.0, probs[1], 1e-9)
}

func TestServer_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := map[string]struct {
		do   func() (*http.Response, error)
		code int
	}{
		"没有输入": {
			do:   func() (*http.Response, error) { return http.PostForm(ts.URL+"/predict_labels", url.Values{}) },
			code: http.StatusBadRequest,
		},
		"json格式错误": {
			do: func() (*http.Response, error) {
				return http.PostForm(ts.URL+"/predict_labels", url.Values{"input_data": {`{"data":`}})
			},
			code: http.StatusBadRequest,
		},
		"没有行": {
			do: func() (*http.Response, error) {
				return http.PostForm(ts.URL+"/predict_labels", url.Values{"input_data": {`{"data":[]}`}})
			},
			code: http.StatusBadRequest,
		},
		"方法不对": {
			do:   func() (*http.Response, error) { return http.Get(ts.URL + "/predict_labels") },
			code: http.StatusMethodNotAllowed,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := c.do()
			require.NoError(t, err)
			assert.Equal(t, c.code, resp.StatusCode)
			assert.NotEmpty(t, decodeResponse(t, resp)["error"])
		})
	}

	t.Run("文件不是csv", func(t *testing.T) {
		resp := postCSV(t, ts.URL+"/predict_labels", "flows.txt", flowsCSV)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestServer_PredictorErrors(t *testing.T) {
	t.Run("批次正在执行", func(t *testing.T) {
		ts := newTestServer(t, predictorFunc(func(ctx context.Context, req *detector.PredictReq) (*detector.BatchResult, error) {
			return nil, errors.WithMessage(workflow.ErrBatchInProgress, "batch b1")
		}))
		resp := postCSV(t, ts.URL+"/predict_labels?batch_id=b1", "flows.csv", flowsCSV)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("单行错误", func(t *testing.T) {
		var gotReq *detector.PredictReq
		ts := newTestServer(t, predictorFunc(func(ctx context.Context, req *detector.PredictReq) (*detector.BatchResult, error) {
			gotReq = req
			return &detector.BatchResult{BatchID: "b2", Rows: []detector.RowResult{
				{Index: 0, Label: commonregister.LabelBenign, Terminal: workflow.TerminalEnd},
				{Index: 1, Terminal: workflow.TerminalFailed, Err: &workflow.StageError{Stage: "MultiClassifier", Err: errors.New("boom")}},
			}}, nil
		}))
		resp := postCSV(t, ts.URL+"/predict_proba?batch_id=b2", "flows.csv", flowsCSV)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		payload := decodeResponse(t, resp)
		assert.Equal(t, "b2", payload["batch_id"])
		assert.Equal(t, []any{commonregister.LabelBenign, ""}, payload["labels"])
		assert.Equal(t, []any{nil, nil}, payload["probabilities"])
		assert.Equal(t, map[string]any{"1": "stage MultiClassifier failed: boom"}, payload["errors"])
		require.NotNil(t, gotReq)
		assert.Equal(t, "b2", gotReq.BatchID)
		assert.Equal(t, workflow.ModeProba, gotReq.Mode)
	})
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeResponse(t, resp)["status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.WithMessage(workflow.ErrEmptyResult, "x")))
	assert.Equal(t, http.StatusConflict, statusFor(workflow.ErrBatchInProgress))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(workflow.ErrModelLoad))
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		statusFor(readError(&http.MaxBytesError{Limit: 1}, "read body failed")))
	assert.Equal(t, http.StatusBadRequest, statusFor(readError(io.ErrUnexpectedEOF, "read body failed")))
}
