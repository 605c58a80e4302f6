package httpinterface

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tdex-network/escrowd/internal/core/application"
	"github.com/tdex-network/escrowd/internal/core/application/pubsub"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

type handler struct {
	isArbitrator          bool
	arbitratorNodeAddress string
	node                  NodeInfo
	tradeSvc              application.TradeService
	pubsubSvc             application.PubSubService
}

func (h *handler) getInfo(w http.ResponseWriter, _ *http.Request) {
	ring := h.node.PubKeyRing()
	writeJSON(w, http.StatusOK, infoResponse{
		NodeAddress:      h.node.NodeAddress(),
		SignaturePubKey:  hex.EncodeToString(ring.SignaturePubKey),
		EncryptionPubKey: hex.EncodeToString(ring.EncryptionPubKey),
		IsArbitrator:     h.isArbitrator,
	})
}

func (h *handler) listOpenOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.tradeSvc.ListOpenOffers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res := make([]openOfferInfo, 0, len(offers))
	for _, o := range offers {
		res = append(res, newOpenOfferInfo(o))
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) placeOffer(w http.ResponseWriter, r *http.Request) {
	if h.isArbitrator {
		writeServiceError(w, errArbitratorCannotTrade)
		return
	}
	var req placeOfferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Offer.ArbitratorNodeAddress) <= 0 {
		req.Offer.ArbitratorNodeAddress = h.arbitratorNodeAddress
	}

	openOffer, err := h.tradeSvc.PlaceOffer(r.Context(), req.Offer, req.PaymentAccount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOpenOfferInfo(openOffer))
}

func (h *handler) cancelOffer(w http.ResponseWriter, r *http.Request) {
	if err := h.tradeSvc.CancelOffer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) takeOffer(w http.ResponseWriter, r *http.Request) {
	if h.isArbitrator {
		writeServiceError(w, errArbitratorCannotTrade)
		return
	}
	var req takeOfferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	trade, err := h.tradeSvc.TakeOffer(r.Context(), req.Offer, req.Amount, req.PaymentAccount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTradeInfo(trade))
}

func (h *handler) listTrades(w http.ResponseWriter, r *http.Request) {
	bucket := domain.Bucket(r.URL.Query().Get("bucket"))
	switch bucket {
	case "":
		bucket = domain.BucketOpen
	case domain.BucketOpen, domain.BucketClosed, domain.BucketFailed:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown bucket %q", bucket))
		return
	}

	trades, err := h.tradeSvc.ListTrades(r.Context(), bucket)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res := make([]tradeInfo, 0, len(trades))
	for _, t := range trades {
		res = append(res, newTradeInfo(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) getTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := h.tradeSvc.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeInfo(trade))
}

func (h *handler) confirmPaymentSent(w http.ResponseWriter, r *http.Request) {
	var req paymentSentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.tradeSvc.ConfirmPaymentSent(
		r.Context(), chi.URLParam(r, "id"), req.CounterCurrencyTxId,
	); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) confirmPaymentReceived(w http.ResponseWriter, r *http.Request) {
	if err := h.tradeSvc.ConfirmPaymentReceived(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) openDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.tradeSvc.OpenDispute(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) closeDispute(w http.ResponseWriter, r *http.Request) {
	var result domain.DisputeResult
	if !decodeBody(w, r, &result) {
		return
	}
	tradeId := chi.URLParam(r, "id")
	if len(result.TradeId) <= 0 {
		result.TradeId = tradeId
	}
	if err := h.tradeSvc.CloseDispute(r.Context(), tradeId, result); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) getDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.tradeSvc.GetDispute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDisputeInfo(d))
}

func (h *handler) listDisputes(w http.ResponseWriter, r *http.Request) {
	disputes, err := h.tradeSvc.ListDisputes(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res := make([]disputeInfo, 0, len(disputes))
	for _, d := range disputes {
		res = append(res, newDisputeInfo(d))
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) addWebhook(w http.ResponseWriter, r *http.Request) {
	if h.pubsubSvc == nil {
		writeServiceError(w, application.ErrWebhookManagerNotInitialized)
		return
	}
	var req addWebhookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Endpoint) <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing webhook endpoint"))
		return
	}

	id, err := h.pubsubSvc.AddWebhook(r.Context(), pubsub.Webhook{
		Topic:    req.Topic,
		Endpoint: req.Endpoint,
		Secret:   req.Secret,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, addWebhookResponse{id})
}

func (h *handler) removeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.pubsubSvc == nil {
		writeServiceError(w, application.ErrWebhookManagerNotInitialized)
		return
	}
	if err := h.pubsubSvc.RemoveWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.pubsubSvc == nil {
		writeServiceError(w, application.ErrWebhookManagerNotInitialized)
		return
	}
	hooks, err := h.pubsubSvc.ListWebhooks(r.Context(), r.URL.Query().Get("topic"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}
