package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orders-platform/order-processing/models"
)

// getOrder handles GET /orders/{id}, consulting the read cache first
// (single-entity reads only — list queries below never touch the cache).
func (s *Server) getOrder(c *gin.Context) {
	orderID := c.Param("id")

	var view models.OrderView
	if s.cache != nil {
		if err := s.cache.Get(c.Request.Context(), orderID, &view); err == nil {
			c.JSON(http.StatusOK, view)
			return
		}
	}

	loaded, err := s.queryRepo.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	if s.cache != nil {
		s.cache.Set(c.Request.Context(), orderID, loaded)
	}
	c.JSON(http.StatusOK, loaded)
}

// getOrderByNumber handles GET /orders/number/{order_number}.
func (s *Server) getOrderByNumber(c *gin.Context) {
	orderNumber := c.Param("order_number")

	view, err := s.queryRepo.GetByOrderNumber(c.Request.Context(), orderNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// listCustomerOrders handles GET /customers/{id}/orders?limit&offset. List
// queries are never cached
func (s *Server) listCustomerOrders(c *gin.Context) {
	customerID := c.Param("id")
	limit, offset := pageParams(c)

	views, err := s.queryRepo.ListByCustomer(c.Request.Context(), customerID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

// listOrdersByStatus handles GET /orders/status/{status}?limit&offset.
func (s *Server) listOrdersByStatus(c *gin.Context) {
	status := c.Param("status")
	limit, offset := pageParams(c)

	views, err := s.queryRepo.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	return limit, offset
}
