package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orders-platform/order-processing/commandpipeline"
	"github.com/orders-platform/order-processing/domain"
)

// commandTimeout bounds every command pipeline call so a stalled store or
// bus write can't hang an HTTP request indefinitely.
const commandTimeout = 5 * time.Second

// OrderResponse is the body returned for every command that succeeds,
// carrying the aggregate id and its current logical status.
type OrderResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Version     int    `json:"version"`
}

func toOrderResponse(a *domain.OrderAggregate) OrderResponse {
	return OrderResponse{
		OrderID:     a.GetID(),
		OrderNumber: a.State.OrderNumber,
		Status:      a.State.Status,
		Version:     a.GetVersion(),
	}
}

// createOrderRequest is the JSON body for POST /orders. CommandID is
// optional; a missing value gets a generated uuid so a client that
// doesn't care about idempotent retries doesn't have to supply one.
type createOrderRequest struct {
	CommandID       string                 `json:"command_id"`
	OrderID         string                 `json:"order_id"`
	CustomerID      string                 `json:"customer_id"`
	Items           []domain.OrderItem     `json:"items"`
	Currency        string                 `json:"currency"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
}

// createOrder handles POST /orders.
func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CommandID == "" {
		req.CommandID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	aggregate, err := s.pipeline.CreateOrder(ctx, commandpipeline.CreateOrderCommand{
		CommandID:       req.CommandID,
		OrderID:         req.OrderID,
		CustomerID:      req.CustomerID,
		Items:           req.Items,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(aggregate))
}

type commandIDRequest struct {
	CommandID string `json:"command_id"`
}

// confirmOrder handles PUT /orders/{id}/confirm.
func (s *Server) confirmOrder(c *gin.Context) {
	orderID := c.Param("id")
	var req commandIDRequest
	_ = c.ShouldBindJSON(&req)
	if req.CommandID == "" {
		req.CommandID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	aggregate, err := s.pipeline.ConfirmOrder(ctx, commandpipeline.ConfirmOrderCommand{
		CommandID: req.CommandID,
		OrderID:   orderID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(aggregate))
}

type cancelOrderRequest struct {
	CommandID string `json:"command_id"`
	Reason    string `json:"reason"`
}

// cancelOrder handles PUT /orders/{id}/cancel.
func (s *Server) cancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CommandID == "" {
		req.CommandID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	aggregate, err := s.pipeline.CancelOrder(ctx, commandpipeline.CancelOrderCommand{
		CommandID: req.CommandID,
		OrderID:   orderID,
		Reason:    req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(aggregate))
}

type shipOrderRequest struct {
	CommandID      string `json:"command_id"`
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`
}

// shipOrder handles PUT /orders/{id}/ship.
func (s *Server) shipOrder(c *gin.Context) {
	orderID := c.Param("id")
	var req shipOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CommandID == "" {
		req.CommandID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	aggregate, err := s.pipeline.ShipOrder(ctx, commandpipeline.ShipOrderCommand{
		CommandID:      req.CommandID,
		OrderID:        orderID,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(aggregate))
}

type deliverOrderRequest struct {
	CommandID  string `json:"command_id"`
	ReceivedBy string `json:"received_by"`
}

// deliverOrder handles PUT /orders/{id}/deliver.
func (s *Server) deliverOrder(c *gin.Context) {
	orderID := c.Param("id")
	var req deliverOrderRequest
	_ = c.ShouldBindJSON(&req)
	if req.CommandID == "" {
		req.CommandID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	aggregate, err := s.pipeline.DeliverOrder(ctx, commandpipeline.DeliverOrderCommand{
		CommandID:  req.CommandID,
		OrderID:    orderID,
		ReceivedBy: req.ReceivedBy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(aggregate))
}
