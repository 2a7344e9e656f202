package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Aidin1998/amlwatch/internal/compliance/aml/jobs"
	"github.com/Aidin1998/amlwatch/internal/ingest"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/Aidin1998/amlwatch/pkg/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultUserPage = 100
	maxUserPage     = 1000
)

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"omitempty,max=10"`
	Description string          `json:"description" validate:"max=500"`
}

type jobRequest struct {
	JobID string `json:"job_id" validate:"max=64"`
}

func userID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errors.Invalid.Explain("invalid user id %q", c.Param("id"))
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.Invalid.Explain("%s must be a non-negative integer", name)
	}
	return v, nil
}

// GET /api/v1/users?skip=&limit=
func (s *Server) listUsers(c *gin.Context) {
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", defaultUserPage)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if limit == 0 || limit > maxUserPage {
		limit = maxUserPage
	}
	users, err := s.store.ListUsers(c.Request.Context(), skip, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GET /api/v1/users/:id
func (s *Server) getUser(c *gin.Context) {
	id, err := userID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	received, err := s.store.ReceivedTransactions(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "transactions_received": received})
}

// GET /api/v1/users/:id/transactions
func (s *Server) listUserTransactions(c *gin.Context) {
	id, err := userID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := s.store.GetUser(ctx, id); err != nil {
		s.writeError(c, err)
		return
	}
	txs, err := s.store.TransactionsForUser(ctx, id, time.Time{})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GET /api/v1/users/:id/alerts?limit=
func (s *Server) listUserAlerts(c *gin.Context) {
	id, err := userID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	alerts, err := s.store.ListAlerts(c.Request.Context(), id, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

// POST /api/v1/users/:id/transactions records a deposit from the external
// system account and queues a screen of the receiver
func (s *Server) createDeposit(c *gin.Context) {
	id, err := userID(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req depositRequest
	if err := s.bind(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	if !req.Amount.IsPositive() {
		s.writeError(c, errors.Invalid.Explain("request validation failed").WithField("gt", "amount", "amount must be positive"))
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = ingest.DefaultCurrency
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = ingest.DefaultDescription
	}

	ctx := c.Request.Context()
	if _, err := s.store.GetUser(ctx, id); err != nil {
		s.writeError(c, err)
		return
	}
	external, err := s.store.ExternalSystemUser(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	tx := &store.Transaction{
		ID:          uuid.New(),
		FromUserID:  &external.ID,
		ToUserID:    id,
		Amount:      req.Amount,
		Currency:    currency,
		Description: description,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		s.writeError(c, err)
		return
	}

	job, err := s.jobs.Submit(ctx, jobs.Request{
		Kind:   store.JobTransactionScreen,
		UserID: &id,
		Params: jobs.Params{TransactionID: &tx.ID},
	})
	if err != nil {
		s.logger.Error("Deposit stored but screening was not queued", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx, "job_id": job.JobID})
}

// submitUserJob queues kind for the user in the path. A caller-chosen job_id
// may come from the query string or a JSON body.
func (s *Server) submitUserJob(kind store.JobKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := userID(c)
		if err != nil {
			s.writeError(c, err)
			return
		}
		req := jobRequest{JobID: c.Query("job_id")}
		if req.JobID == "" && c.Request.ContentLength > 0 {
			if err := s.bind(c, &req); err != nil {
				s.writeError(c, err)
				return
			}
		}
		if err := s.validate(&req); err != nil {
			s.writeError(c, err)
			return
		}
		job, err := s.jobs.Submit(c.Request.Context(), jobs.Request{JobID: req.JobID, Kind: kind, UserID: &id})
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.JobID})
	}
}

// GET /api/v1/results/:job_id
func (s *Server) getResult(c *gin.Context) {
	res, err := s.jobs.Poll(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
