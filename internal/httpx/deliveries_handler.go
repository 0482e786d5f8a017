package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/mpavlovic/warehouse-deliveries/internal/delivery"
	kafkax "github.com/mpavlovic/warehouse-deliveries/internal/kafka"
	"github.com/mpavlovic/warehouse-deliveries/internal/redisx"
)

// Publishers holds one producer per delivery topic.
type Publishers struct {
	Created  *kafkax.Producer
	Updated  *kafkax.Producer
	Deleted  *kafkax.Producer
	Rejected *kafkax.Producer
}

type DeliveriesHandler struct {
	Svc     *delivery.Service
	Pub     Publishers
	Redis   *redis.Client
	Service string
}

type CreateDeliveryReq struct {
	UserID   string `json:"user_id"`
	ItemID   string `json:"item_id,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

type AddItemReq struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

func (h *DeliveriesHandler) Register(r *chi.Mux) {
	r.Post("/deliveries", h.create)
	r.Post("/deliveries/{id}/items", h.addItem)
	r.Patch("/deliveries/{id}", h.update)
	r.Put("/deliveries/{id}", h.overwrite)
	r.Delete("/deliveries/{id}", h.delete)
	r.Get("/deliveries/{id}", h.get)
	r.Get("/items", h.listItems)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var nf *delivery.NotFoundError
	var is *delivery.InsufficientStockError
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
	case errors.As(err, &is):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     is.Error(),
			"item_id":   is.ItemID,
			"available": is.Available,
			"requested": is.Requested,
		})
	case errors.Is(err, delivery.ErrInvalidQuantity),
		errors.Is(err, delivery.ErrInvalidStatus),
		errors.Is(err, delivery.ErrMissingID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *DeliveriesHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateDeliveryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing user_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Svc.Place(ctx, req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	// optional first line item in the same request
	if req.ItemID != "" {
		withItem, err := h.Svc.AddItem(ctx, d.ID, req.ItemID, req.Quantity)
		if err != nil {
			h.maybePublishRejected(r, d, err)
			writeErr(w, err)
			return
		}
		d = withItem
	}

	h.cacheDTO(ctx, d)
	h.publish(h.Pub.Created, delivery.EventDeliveryCreated, r, d)
	writeJSON(w, http.StatusCreated, d.DTO())
}

func (h *DeliveriesHandler) addItem(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "id")
	var req AddItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.Svc.AddItem(ctx, deliveryID, req.ItemID, req.Quantity)
	if err != nil {
		h.maybePublishRejected(r, &delivery.Delivery{ID: deliveryID}, err)
		writeErr(w, err)
		return
	}

	h.cacheDTO(ctx, d)
	h.publish(h.Pub.Updated, delivery.EventDeliveryUpdated, r, d)
	writeJSON(w, http.StatusOK, d.DTO())
}

func (h *DeliveriesHandler) update(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, h.Svc.Update)
}

func (h *DeliveriesHandler) overwrite(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, h.Svc.Overwrite)
}

func (h *DeliveriesHandler) reconcile(w http.ResponseWriter, r *http.Request,
	op func(context.Context, string, delivery.UpdateRequest) (*delivery.Delivery, error)) {

	deliveryID := chi.URLParam(r, "id")
	var req delivery.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := op(ctx, deliveryID, req)
	if err != nil {
		h.maybePublishRejected(r, &delivery.Delivery{ID: deliveryID}, err)
		writeErr(w, err)
		return
	}

	h.cacheDTO(ctx, d)
	h.publish(h.Pub.Updated, delivery.EventDeliveryUpdated, r, d)
	writeJSON(w, http.StatusOK, d.DTO())
}

func (h *DeliveriesHandler) delete(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.Delete(ctx, deliveryID); err != nil {
		writeErr(w, err)
		return
	}

	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyDeliveryCache, deliveryID)).Err()
	h.publish(h.Pub.Deleted, delivery.EventDeliveryDeleted, r, &delivery.Delivery{ID: deliveryID, Items: map[string]int{}})
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeliveriesHandler) get(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "id")
	if deliveryID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first
	key := fmt.Sprintf(redisx.KeyDeliveryCache, deliveryID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	d, err := h.Svc.Get(ctx, deliveryID)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheDTO(ctx, d)
	writeJSON(w, http.StatusOK, d.DTO())
}

func (h *DeliveriesHandler) listItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Svc.ListItems(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *DeliveriesHandler) cacheDTO(ctx context.Context, d *delivery.Delivery) {
	b, err := json.Marshal(d.DTO())
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyDeliveryCache, d.ID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLDeliveryCache).Err()
}

func (h *DeliveriesHandler) publish(p *kafkax.Producer, eventType string, r *http.Request, d *delivery.Delivery) {
	ev := delivery.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: d.ID,
		Payload: kafkax.MustMarshal(delivery.DeliveryChangedPayload{
			DeliveryID:  d.ID,
			UserID:      d.UserID,
			WarehouseID: d.WarehouseID,
			Status:      d.Status,
			TotalPrice:  d.TotalPrice.String(),
			Items:       d.Items,
		}),
	}
	p.Publish(delivery.PartitionKey(d.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// maybePublishRejected emits a stock.rejected event when the failure was a
// stock shortfall; other errors stay request-local.
func (h *DeliveriesHandler) maybePublishRejected(r *http.Request, d *delivery.Delivery, err error) {
	var is *delivery.InsufficientStockError
	if !errors.As(err, &is) {
		return
	}
	ev := delivery.Envelope{
		EventID:       uuid.NewString(),
		EventType:     delivery.EventStockRejected,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: d.ID,
		Payload: kafkax.MustMarshal(delivery.StockRejectedPayload{
			DeliveryID: d.ID,
			ItemID:     is.ItemID,
			Required:   is.Requested,
			Available:  is.Available,
		}),
	}
	h.Pub.Rejected.Publish(delivery.PartitionKey(d.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(delivery.EventStockRejected)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
