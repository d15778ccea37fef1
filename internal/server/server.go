package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stheg/dao-market-referrals-program/internal/domain"
	"github.com/stheg/dao-market-referrals-program/internal/engine"
	"github.com/stheg/dao-market-referrals-program/internal/engine/auth"
	"github.com/stheg/dao-market-referrals-program/internal/repo"
	"github.com/stheg/dao-market-referrals-program/internal/token"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Gatherer backs GET /metrics when set.
	Gatherer prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"voted_already"`
	Message string         `json:"message" example:"voted already"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"proposal\":1}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the governance API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("DAO Governance API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	registerHealth(group)
	registerParams(group, cfg.Engine)
	registerAccounts(group, cfg.Engine)
	registerProposals(group, cfg.Engine)
	registerVoting(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath, cfg.Auth.EnableDevLogin)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// governanceErrors maps engine sentinels to status and code. Order matters:
// ErrNothingToUnstake also matches ErrNoDeposit.
var governanceErrors = []struct {
	err    error
	status int
	code   string
}{
	{engine.ErrNoSuchVoting, http.StatusNotFound, "no_such_voting"},
	{engine.ErrNothingToUnstake, http.StatusConflict, "nothing_to_unstake"},
	{engine.ErrNoDeposit, http.StatusConflict, "no_deposit"},
	{engine.ErrDelegateVotedAlready, http.StatusConflict, "delegate_voted_already"},
	{engine.ErrVotedAlready, http.StatusConflict, "voted_already"},
	{engine.ErrDelegationCycle, http.StatusConflict, "delegation_cycle"},
	{engine.ErrTokensFrozen, http.StatusConflict, "tokens_frozen"},
	{engine.ErrHandledAlready, http.StatusConflict, "handled_already"},
	{engine.ErrVotingInProcess, http.StatusConflict, "voting_in_process"},
	{engine.ErrVotingClosed, http.StatusConflict, "voting_closed"},
	{engine.ErrRecipientCall, http.StatusBadGateway, "recipient_call_error"},
	{engine.ErrInvalidDelegate, http.StatusBadRequest, "invalid_delegate"},
	{engine.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{engine.ErrInvalidCall, http.StatusBadRequest, "invalid_call"},
	{token.ErrInsufficientAllowance, http.StatusUnprocessableEntity, "insufficient_allowance"},
	{token.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	for _, ge := range governanceErrors {
		if errors.Is(err, ge.err) {
			return newAPIError(ge.status, ge.code, err.Error(), nil)
		}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func badRequest(msg string, details map[string]any) huma.StatusError {
	return newAPIError(http.StatusBadRequest, "bad_request", msg, details)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI serves the document built once from the routes
// registered so far, so it must run after every register call.
func registerOpenAPI(r chi.Router, api huma.API, basePath string, devLogin bool) {
	oas := api.OpenAPI()
	ensureDefaultErrorResponses(oas)
	applyAuthSecurity(oas, basePath, devLogin)
	spec, err := json.Marshal(oas)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string, devLogin bool) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"): true,
	}
	if devLogin {
		public[path.Join("/", basePath, "auth/dev/login")] = true
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>DAO Governance API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerParams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-params",
		Method:      http.MethodGet,
		Path:        "/params",
		Summary:     "Governance parameters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ParamsResponse `json:"body"`
	}, error) {
		p, err := e.Params(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParamsResponse `json:"body"`
		}{Body: paramsResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-params",
		Method:      http.MethodPatch,
		Path:        "/params",
		Summary:     "Change voting duration, quorum or reference supply",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body UpdateParamsRequest `json:"body"`
	}) (*struct {
		Body ParamsResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := input.Body
		if req.VotingDuration == nil && req.MinQuorumPercent == nil && req.ReferenceSupply == nil {
			return nil, badRequest("nothing to update", nil)
		}
		var (
			p   domain.Params
			err error
		)
		if req.VotingDuration != nil {
			d, perr := time.ParseDuration(*req.VotingDuration)
			if perr != nil {
				return nil, badRequest("invalid voting_duration", map[string]any{"voting_duration": *req.VotingDuration})
			}
			if p, err = e.SetVotingDuration(ctx, caller, d); err != nil {
				return nil, handleError(err)
			}
		}
		if req.MinQuorumPercent != nil {
			if p, err = e.SetMinQuorum(ctx, caller, *req.MinQuorumPercent); err != nil {
				return nil, handleError(err)
			}
		}
		if req.ReferenceSupply != nil {
			supply, ok := parseAmount(*req.ReferenceSupply)
			if !ok {
				return nil, badRequest("invalid reference_supply", map[string]any{"reference_supply": *req.ReferenceSupply})
			}
			if p, err = e.SetReferenceSupply(ctx, caller, supply); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body ParamsResponse `json:"body"`
		}{Body: paramsResponse(p)}, nil
	})
}

func registerAccounts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-account",
		Method:      http.MethodGet,
		Path:        "/accounts/{address}",
		Summary:     "Stake and open commitments of an account",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		addr, ok := parseAddress(input.Address)
		if !ok {
			return nil, badRequest("invalid address", map[string]any{"address": input.Address})
		}
		acc, err := e.GetDetails(ctx, addr)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(acc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stake",
		Method:      http.MethodPost,
		Path:        "/stake",
		Summary:     "Deposit tokens into custody",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body StakeRequest `json:"body"`
	}) (*struct {
		Body AccountResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, ok := parseAmount(input.Body.Amount)
		if !ok {
			return nil, badRequest("invalid amount", map[string]any{"amount": input.Body.Amount})
		}
		acc, err := e.Stake(ctx, caller, amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccountResponse `json:"body"`
		}{Body: accountResponse(acc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unstake",
		Method:      http.MethodPost,
		Path:        "/unstake",
		Summary:     "Withdraw the whole deposit",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UnstakeResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := e.Unstake(ctx, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnstakeResponse `json:"body"`
		}{Body: UnstakeResponse{Address: caller.Hex(), Returned: amount.String()}}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals",
		Summary:       "Register a proposal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProposalRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, badRequest("body required", nil)
		}
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		recipient, ok := parseAddress(input.Body.Recipient)
		if !ok {
			return nil, badRequest("invalid recipient", map[string]any{"recipient": input.Body.Recipient})
		}
		var data []byte
		if input.Body.CallData != "" {
			decoded, err := hexutil.Decode(input.Body.CallData)
			if err != nil {
				return nil, badRequest("invalid call_data", map[string]any{"call_data": err.Error()})
			}
			data = decoded
		}
		p, err := e.AddProposal(ctx, caller, engine.ProposalCreateOptions{
			Recipient:   recipient,
			CallData:    data,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p, votingDuration(ctx, e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List proposals",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status" enum:"in_progress,approved,rejected,cancelled"`
		Creator string `query:"creator"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedProposals `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		f := repo.ProposalFilter{Limit: limit + 1}
		if input.Status != "" {
			st, err := domain.ParseStatus(input.Status)
			if err != nil {
				return nil, badRequest(err.Error(), nil)
			}
			f.Status = &st
		}
		if input.Creator != "" {
			addr, ok := parseAddress(input.Creator)
			if !ok {
				return nil, badRequest("invalid creator", map[string]any{"creator": input.Creator})
			}
			f.Creator = &addr
		}
		if input.Cursor != "" {
			after, err := strconv.ParseUint(input.Cursor, 10, 64)
			if err != nil {
				return nil, badRequest("invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			f.AfterID = after
		}
		items, err := e.ListProposals(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProposals{}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatUint(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = mapProposals(items, votingDuration(ctx, e))
		return &struct {
			Body paginatedProposals `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID uint64 `path:"id"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := e.GetProposal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p, votingDuration(ctx, e))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finish-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{id}/finish",
		Summary:     "Settle a proposal after its deadline",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ID uint64 `path:"id"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Finish(ctx, caller, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalResponse `json:"body"`
		}{Body: proposalResponse(p, votingDuration(ctx, e))}, nil
	})
}

func registerVoting(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "vote",
		Method:        http.MethodPost,
		Path:          "/proposals/{id}/votes",
		Summary:       "Vote with own and delegated weight",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   uint64      `path:"id"`
		Body VoteRequest `json:"body"`
	}) (*struct {
		Body VoteResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.Vote(ctx, caller, input.ID, input.Body.Support)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VoteResponse `json:"body"`
		}{Body: voteResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-votes",
		Method:      http.MethodGet,
		Path:        "/proposals/{id}/votes",
		Summary:     "Direct votes on a proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID uint64 `path:"id"`
	}) (*struct {
		Body []VoteResponse `json:"body"`
	}, error) {
		items, err := e.ListVotes(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []VoteResponse `json:"body"`
		}{Body: mapVotes(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delegate",
		Method:        http.MethodPost,
		Path:          "/proposals/{id}/delegations",
		Summary:       "Delegate the voting right on one proposal",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   uint64          `path:"id"`
		Body DelegateRequest `json:"body"`
	}) (*struct {
		Body DelegationResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		to, ok := parseAddress(input.Body.Delegate)
		if !ok {
			return nil, badRequest("invalid delegate", map[string]any{"delegate": input.Body.Delegate})
		}
		d, err := e.Delegate(ctx, caller, to, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DelegationResponse `json:"body"`
		}{Body: delegationResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-delegations",
		Method:      http.MethodGet,
		Path:        "/proposals/{id}/delegations",
		Summary:     "Delegation edges of a proposal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID uint64 `path:"id"`
	}) (*struct {
		Body []DelegationResponse `json:"body"`
	}, error) {
		items, err := e.ListDelegations(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DelegationResponse `json:"body"`
		}{Body: mapDelegations(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"proposal,account,dao,rbac"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, badRequest("invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	change := func(grant bool) func(context.Context, *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		return func(ctx context.Context, input *struct {
			Body RoleChangeRequest `json:"body"`
		}) (*struct{}, error) {
			caller, authErr := callerFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			target, ok := parseAddress(input.Body.Account)
			if !ok {
				return nil, badRequest("invalid account", map[string]any{"account": input.Body.Account})
			}
			if strings.TrimSpace(input.Body.RoleID) == "" {
				return nil, badRequest("role_id is required", nil)
			}
			var err error
			if grant {
				err = e.GrantRole(ctx, caller, target, input.Body.RoleID)
			} else {
				err = e.RevokeRole(ctx, caller, target, input.Body.RoleID)
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		}
	}
	errs := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
	}
	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/grant",
		Summary:     "Grant role",
		Errors:      errs,
	}, change(true))
	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors:      errs,
	}, change(false))
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		roles, perms, err := e.Roles(ctx, principal.Account)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			Account:     principal.Account.Hex(),
			Source:      principal.Source,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, badRequest("body required", nil)
		}
		account, ok := parseAddress(strings.TrimSpace(input.Body.Account))
		if !ok {
			return nil, badRequest("account must be an address", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, account)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

// votingDuration is best effort; responses omit the deadline if params
// cannot be read.
func votingDuration(ctx context.Context, e engine.Engine) time.Duration {
	p, err := e.Params(ctx)
	if err != nil {
		return 0
	}
	return p.VotingDuration
}
