package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/elnosh/nutsack/cashu"
	"github.com/elnosh/nutsack/cashu/nuts/nut01"
	"github.com/elnosh/nutsack/cashu/nuts/nut03"
	"github.com/elnosh/nutsack/cashu/nuts/nut04"
	"github.com/elnosh/nutsack/cashu/nuts/nut05"
	"github.com/elnosh/nutsack/cashu/nuts/nut06"
	"github.com/elnosh/nutsack/cashu/nuts/nut07"
)

// MintAPI is the set of requests the wallet makes to a mint.
type MintAPI interface {
	GetKeys(ctx context.Context) (nut01.KeysResponse, error)
	RequestMint(ctx context.Context, amount uint64) (*nut03.RequestMintResponse, error)
	PostMint(ctx context.Context, paymentHash string, mintRequest nut04.PostMintRequest) (*nut04.PostMintResponse, error)
	CheckFees(ctx context.Context, feesRequest nut05.CheckFeesRequest) (*nut05.CheckFeesResponse, error)
	PostMelt(ctx context.Context, meltRequest nut05.PostMeltRequest) (*nut05.PostMeltResponse, error)
	PostSplit(ctx context.Context, splitRequest nut06.PostSplitRequest) (*nut06.PostSplitResponse, error)
	PostCheck(ctx context.Context, checkRequest nut07.PostCheckRequest) (*nut07.PostCheckResponse, error)
}

// Client talks to a single mint over HTTP. Requests that are safe to
// repeat are retried on network errors with the exact same body.
type Client struct {
	mintURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewClient(mintURL string, config Config) *Client {
	config.setDefaults()
	return &Client{
		mintURL:    strings.TrimSuffix(mintURL, "/"),
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		maxRetries: config.MaxRetries,
		backoff:    config.RetryBackoff,
		logger:     config.Logger,
	}
}

func (c *Client) MintURL() string {
	return c.mintURL
}

func (c *Client) GetKeys(ctx context.Context) (nut01.KeysResponse, error) {
	var keys nut01.KeysResponse
	if err := c.do(ctx, "get keys", http.MethodGet, "/keys", nil, true, &keys); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, protocolErrorf("get keys", c.mintURL, "mint returned no keys")
	}
	return keys, nil
}

// RequestMint is not retried: every request creates a new invoice.
func (c *Client) RequestMint(ctx context.Context, amount uint64) (*nut03.RequestMintResponse, error) {
	path := "/mint?amount=" + strconv.FormatUint(amount, 10)

	var mintResponse nut03.RequestMintResponse
	if err := c.do(ctx, "request mint", http.MethodGet, path, nil, false, &mintResponse); err != nil {
		return nil, err
	}
	if len(mintResponse.PaymentRequest) == 0 || len(mintResponse.Hash) == 0 {
		return nil, protocolErrorf("request mint", c.mintURL, "mint returned an empty invoice")
	}
	return &mintResponse, nil
}

func (c *Client) PostMint(ctx context.Context, paymentHash string,
	mintRequest nut04.PostMintRequest) (*nut04.PostMintResponse, error) {

	path := "/mint?payment_hash=" + url.QueryEscape(paymentHash)

	var mintResponse nut04.PostMintResponse
	if err := c.post(ctx, "mint", path, mintRequest, &mintResponse); err != nil {
		return nil, err
	}
	return &mintResponse, nil
}

func (c *Client) CheckFees(ctx context.Context, feesRequest nut05.CheckFeesRequest) (*nut05.CheckFeesResponse, error) {
	var feesResponse nut05.CheckFeesResponse
	if err := c.post(ctx, "check fees", "/checkfees", feesRequest, &feesResponse); err != nil {
		return nil, err
	}
	return &feesResponse, nil
}

func (c *Client) PostMelt(ctx context.Context, meltRequest nut05.PostMeltRequest) (*nut05.PostMeltResponse, error) {
	var meltResponse nut05.PostMeltResponse
	if err := c.post(ctx, "melt", "/melt", meltRequest, &meltResponse); err != nil {
		return nil, err
	}
	return &meltResponse, nil
}

func (c *Client) PostSplit(ctx context.Context, splitRequest nut06.PostSplitRequest) (*nut06.PostSplitResponse, error) {
	var splitResponse nut06.PostSplitResponse
	if err := c.post(ctx, "split", "/split", splitRequest, &splitResponse); err != nil {
		return nil, err
	}
	if splitResponse.Fst == nil && splitResponse.Snd == nil {
		return nil, protocolErrorf("split", c.mintURL, "mint response has no promises")
	}
	return &splitResponse, nil
}

func (c *Client) PostCheck(ctx context.Context, checkRequest nut07.PostCheckRequest) (*nut07.PostCheckResponse, error) {
	var checkResponse nut07.PostCheckResponse
	if err := c.post(ctx, "check", "/check", checkRequest, &checkResponse); err != nil {
		return nil, err
	}
	if err := checkResponse.Validate(len(checkRequest.Proofs)); err != nil {
		return nil, protocolError("check", c.mintURL, err)
	}
	return &checkResponse, nil
}

// post marshals the request once so every retry sends identical bytes.
func (c *Client) post(ctx context.Context, op, path string, request, dst any) error {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("json.Marshal: %v", err)
	}
	return c.do(ctx, op, http.MethodPost, path, requestBody, true, dst)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, retry bool, dst any) error {
	attempts := 1
	if retry {
		attempts += c.maxRetries
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug(fmt.Sprintf("retrying %v request to %v (attempt %v): %v", op, c.mintURL, attempt+1, err))
			select {
			case <-ctx.Done():
				return networkError(op, c.mintURL, ctx.Err())
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}

		err = c.doOnce(ctx, op, method, path, body, dst)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, body []byte, dst any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.mintURL+path, reader)
	if err != nil {
		return fmt.Errorf("invalid request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// a cancelled request may still have reached the mint
		if ctxErr := ctx.Err(); ctxErr != nil {
			return networkError(op, c.mintURL, ctxErr)
		}
		return networkError(op, c.mintURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return networkError(op, c.mintURL, ctxErr)
		}
		return networkError(op, c.mintURL, err)
	}

	if err := c.parse(op, resp.StatusCode, respBody); err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, dst); err != nil {
		return protocolErrorf(op, c.mintURL, "error reading response from mint: %v", err)
	}
	return nil
}

func (c *Client) parse(op string, statusCode int, body []byte) error {
	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusBadRequest:
		var errResponse cashu.Error
		if err := json.Unmarshal(body, &errResponse); err != nil {
			return protocolErrorf(op, c.mintURL, "could not decode error response from mint: %v", err)
		}
		return protocolError(op, c.mintURL, errResponse)
	case statusCode >= 500, statusCode == http.StatusTooManyRequests:
		return networkError(op, c.mintURL, fmt.Errorf("mint returned status %v: %s", statusCode, body))
	default:
		return protocolErrorf(op, c.mintURL, "mint returned status %v: %s", statusCode, body)
	}
}

// isInvoiceNotPaid reports whether the mint rejected a mint request
// because the invoice has not been paid yet.
func isInvoiceNotPaid(err error) bool {
	var cashuErr cashu.Error
	if !errors.As(err, &cashuErr) {
		return false
	}
	return cashuErr.Code == cashu.InvoiceNotPaidErrCode ||
		strings.Contains(strings.ToLower(cashuErr.Detail), "not paid")
}

// mintErrorCode returns the code of the error reported by the mint, if any.
func mintErrorCode(err error) (cashu.CashuErrCode, bool) {
	var cashuErr cashu.Error
	if !errors.As(err, &cashuErr) {
		return 0, false
	}
	return cashuErr.Code, true
}
