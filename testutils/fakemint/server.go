package fakemint

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/cashu/nuts/nut04"
	"github.com/elnosh/nutsack/cashu/nuts/nut05"
	"github.com/elnosh/nutsack/cashu/nuts/nut06"
	"github.com/elnosh/nutsack/cashu/nuts/nut07"
	"github.com/gorilla/mux"
)

// MintServer serves a Mint over HTTP. Failures can be injected per path
// to see how the wallet handles an unreliable mint.
type MintServer struct {
	httpServer *httptest.Server
	mint       *Mint
	logger     *slog.Logger

	mu sync.Mutex
	// requests received by path, including the failed ones
	requests map[string][][]byte
	// number of requests to fail with 503 before reaching the mint
	failNext map[string]int
	// number of requests to process and then drop the connection
	dropNext map[string]int
}

func NewMintServer(mint *Mint, logger *slog.Logger) *MintServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mintServer := &MintServer{
		mint:     mint,
		logger:   logger,
		requests: make(map[string][][]byte),
		failNext: make(map[string]int),
		dropNext: make(map[string]int),
	}
	mintServer.httpServer = httptest.NewServer(mintServer.router())
	return mintServer
}

func (ms *MintServer) URL() string {
	return ms.httpServer.URL
}

func (ms *MintServer) Mint() *Mint {
	return ms.mint
}

func (ms *MintServer) Close() {
	ms.httpServer.Close()
}

// FailNext makes the next n requests to path fail with 503
// without being processed.
func (ms *MintServer) FailNext(path string, n int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failNext[path] = n
}

// DropNext makes the next n requests to path be processed
// by the mint but closes the connection before responding.
func (ms *MintServer) DropNext(path string, n int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.dropNext[path] = n
}

func (ms *MintServer) RequestCount(path string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.requests[path])
}

// TotalRequests counts the requests to every path.
func (ms *MintServer) TotalRequests() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	total := 0
	for _, requests := range ms.requests {
		total += len(requests)
	}
	return total
}

// Requests returns the bodies of the requests received on path.
func (ms *MintServer) Requests(path string) [][]byte {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([][]byte{}, ms.requests[path]...)
}

func (ms *MintServer) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/keys", ms.getKeys).Methods(http.MethodGet)
	r.HandleFunc("/mint", ms.requestMint).Methods(http.MethodGet)
	r.HandleFunc("/mint", ms.mintTokens).Methods(http.MethodPost)
	r.HandleFunc("/checkfees", ms.checkFees).Methods(http.MethodPost)
	r.HandleFunc("/split", ms.split).Methods(http.MethodPost)
	r.HandleFunc("/melt", ms.melt).Methods(http.MethodPost)
	r.HandleFunc("/check", ms.check).Methods(http.MethodPost)

	r.Use(setupHeaders)
	r.Use(ms.faults)

	return r
}

func setupHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(rw, req)
	})
}

func (ms *MintServer) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		path := req.URL.Path

		ms.mu.Lock()
		ms.requests[path] = append(ms.requests[path], body)
		fail := ms.failNext[path] > 0
		if fail {
			ms.failNext[path]--
		}
		drop := !fail && ms.dropNext[path] > 0
		if drop {
			ms.dropNext[path]--
		}
		ms.mu.Unlock()

		if fail {
			ms.logger.Debug("failing request to " + path)
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte("service unavailable"))
			return
		}

		if drop {
			ms.logger.Debug("dropping response to " + path)
			next.ServeHTTP(httptest.NewRecorder(), req)
			hijacker, ok := rw.(http.Hijacker)
			if !ok {
				panic("response writer does not support hijacking")
			}
			conn, _, err := hijacker.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}

		next.ServeHTTP(rw, req)
	})
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, response any) {
	jsonRes, err := json.Marshal(response)
	if err != nil {
		ms.writeErr(rw, cashu.StandardErr)
		return
	}
	rw.Write(jsonRes)
}

func (ms *MintServer) writeErr(rw http.ResponseWriter, err error) {
	var cashuErr cashu.Error
	var cashuErrPtr *cashu.Error
	switch {
	case errors.As(err, &cashuErr):
	case errors.As(err, &cashuErrPtr):
		cashuErr = *cashuErrPtr
	default:
		cashuErr = cashu.Error{Detail: err.Error(), Code: cashu.StandardErrCode}
	}
	ms.logger.Debug("returning error: " + cashuErr.Detail)

	rw.WriteHeader(http.StatusBadRequest)
	errRes, _ := json.Marshal(cashuErr)
	rw.Write(errRes)
}

func decodeJsonReqBody(req *http.Request, dst any) error {
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(dst); err != nil {
		return cashu.BuildCashuError("invalid request body: "+err.Error(), cashu.StandardErrCode)
	}
	return nil
}

func (ms *MintServer) getKeys(rw http.ResponseWriter, req *http.Request) {
	ms.writeResponse(rw, ms.mint.Keys())
}

func (ms *MintServer) requestMint(rw http.ResponseWriter, req *http.Request) {
	amount, err := strconv.ParseUint(req.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		ms.writeErr(rw, cashu.BuildCashuError("invalid amount", cashu.StandardErrCode))
		return
	}

	response, err := ms.mint.RequestMint(amount)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) mintTokens(rw http.ResponseWriter, req *http.Request) {
	hash := req.URL.Query().Get("payment_hash")
	if len(hash) == 0 {
		ms.writeErr(rw, cashu.BuildCashuError("payment_hash not provided", cashu.StandardErrCode))
		return
	}

	var mintRequest nut04.PostMintRequest
	if err := decodeJsonReqBody(req, &mintRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	promises, err := ms.mint.MintTokens(hash, mintRequest.Outputs)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, nut04.PostMintResponse{Promises: promises})
}

func (ms *MintServer) checkFees(rw http.ResponseWriter, req *http.Request) {
	var feesRequest nut05.CheckFeesRequest
	if err := decodeJsonReqBody(req, &feesRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	response, err := ms.mint.CheckFees(feesRequest.PaymentRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) split(rw http.ResponseWriter, req *http.Request) {
	var splitRequest nut06.PostSplitRequest
	if err := decodeJsonReqBody(req, &splitRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	response, err := ms.mint.Split(splitRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) melt(rw http.ResponseWriter, req *http.Request) {
	var meltRequest nut05.PostMeltRequest
	if err := decodeJsonReqBody(req, &meltRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}

	response, err := ms.mint.Melt(meltRequest)
	if err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) check(rw http.ResponseWriter, req *http.Request) {
	var checkRequest nut07.PostCheckRequest
	if err := decodeJsonReqBody(req, &checkRequest); err != nil {
		ms.writeErr(rw, err)
		return
	}
	ms.writeResponse(rw, ms.mint.Check(checkRequest))
}
