package httpinterface

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/escrowd/internal/core/application"
	"github.com/tdex-network/escrowd/internal/core/application/dispute"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/application/trade"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

const maxBodySize = 1 << 20

var (
	errArbitratorCannotTrade = errors.New("arbitrator can't place or take offers")

	statusByError = map[error]int{
		domain.ErrTradeNotFound:     http.StatusNotFound,
		domain.ErrOpenOfferNotFound: http.StatusNotFound,
		domain.ErrDisputeNotFound:   http.StatusNotFound,

		domain.ErrOfferMissingId:            http.StatusBadRequest,
		domain.ErrOfferInvalidAmount:        http.StatusBadRequest,
		domain.ErrOfferInvalidPrice:         http.StatusBadRequest,
		domain.ErrOfferInvalidDirection:     http.StatusBadRequest,
		domain.ErrOfferMissingMaker:         http.StatusBadRequest,
		domain.ErrOfferMissingArbitrator:    http.StatusBadRequest,
		domain.ErrOfferMissingPaymentMethod: http.StatusBadRequest,
		domain.ErrTradeInvalidAmount:        http.StatusBadRequest,
		domain.ErrPaymentMethodMismatch:     http.StatusBadRequest,
		domain.ErrDisputeInvalidPayout:      http.StatusBadRequest,
		dispute.ErrResultTradeId:            http.StatusBadRequest,

		domain.ErrTradeAlreadyExists:   http.StatusConflict,
		domain.ErrDisputeAlreadyClosed: http.StatusConflict,
		trade.ErrTradeNotOpen:          http.StatusConflict,
		protocol.ErrInvalidTradeState:  http.StatusConflict,
		protocol.ErrOpenOfferClosed:    http.StatusConflict,
		dispute.ErrDisputeAlreadyOpen:  http.StatusConflict,
		dispute.ErrDisputeNotOpen:      http.StatusConflict,

		errArbitratorCannotTrade: http.StatusForbidden,
		dispute.ErrNotTrader:     http.StatusForbidden,
		dispute.ErrNotArbitrator: http.StatusForbidden,

		trade.ErrServiceUnavailable:                 http.StatusServiceUnavailable,
		protocol.ErrShuttingDown:                    http.StatusServiceUnavailable,
		application.ErrWebhookManagerNotInitialized: http.StatusServiceUnavailable,
	}
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps the given error to the most specific http status code.
func statusOf(err error) int {
	for target, status := range statusByError {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{err.Error()})
}

// writeServiceError replies with the status matching the given error.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Warn("operator request failed")
	}
	writeError(w, status, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %s", err))
		return false
	}
	return true
}
