package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grocery-orderflow/internal/catalog"
	"github.com/imrishuroy/grocery-orderflow/internal/inventory"
	"github.com/imrishuroy/grocery-orderflow/internal/validation"
)

// productResponse adds the derived stock level to a product.
type productResponse struct {
	catalog.Product
	Level catalog.Level `json:"level"`
}

func newProductResponse(p catalog.Product) productResponse {
	return productResponse{Product: p, Level: p.Level()}
}

func toProduct(req validation.ProductRequest) catalog.Product {
	return catalog.Product{
		ID:        req.ID,
		Name:      req.Name,
		Price:     req.Price,
		ListPrice: req.ListPrice,
		Category:  req.Category,
		Stock:     req.Stock,
		ImageRef:  req.ImageRef,
	}
}

// RegisterProductRoutes registers public catalog reads.
func RegisterProductRoutes(r gin.IRouter, cfg HandlerConfig) {
	r.GET("/products", func(c *gin.Context) {
		list, err := cfg.Catalog.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]productResponse, len(list))
		for i, p := range list {
			out[i] = newProductResponse(p)
		}
		c.JSON(http.StatusOK, gin.H{"products": out})
	})

	r.GET("/products/:id", func(c *gin.Context) {
		p, err := cfg.Catalog.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, newProductResponse(*p))
	})
}

// RegisterAdminRoutes registers product maintenance and manual stock edits.
func RegisterAdminRoutes(r gin.IRouter, cfg HandlerConfig) {
	r.POST("/products", func(c *gin.Context) {
		var req validation.ProductRequest
		if !bindOrAbort(c, &req) {
			return
		}
		p := toProduct(req)
		if err := cfg.Catalog.Create(c.Request.Context(), p); err != nil {
			writeError(c, err)
			return
		}
		created, err := cfg.Catalog.Get(c.Request.Context(), p.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Location", "/products/"+p.ID)
		c.JSON(http.StatusCreated, newProductResponse(*created))
	})

	// PUT leaves stock alone; stock only moves through the ledger.
	r.PUT("/products/:id", func(c *gin.Context) {
		var req validation.ProductRequest
		if !bindOrAbort(c, &req) {
			return
		}
		req.ID = c.Param("id")
		updated, err := cfg.Catalog.UpdateDetails(c.Request.Context(), toProduct(req))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, newProductResponse(*updated))
	})

	r.POST("/products/:id/stock", func(c *gin.Context) {
		var req validation.StockRequest
		if !bindOrAbort(c, &req) {
			return
		}
		ctx, id := c.Request.Context(), c.Param("id")

		var (
			adj inventory.Adjustment
			err error
		)
		switch req.Op {
		case "set":
			adj, err = cfg.Ledger.Set(ctx, id, req.Quantity)
		case "increment":
			adj, err = cfg.Ledger.Increment(ctx, id, req.Quantity)
		case "decrement":
			adj, err = cfg.Ledger.Decrement(ctx, id, req.Quantity)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, adj)
	})
}
