package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/esimlab/esimbroker/internal/server/http/dto"
)

// CatalogHandler serves destinations, plans, and the admin sync trigger.
type CatalogHandler struct {
	facade CatalogFacade
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(facade CatalogFacade) *CatalogHandler {
	return &CatalogHandler{facade: facade}
}

// Countries handles GET /api/catalog/countries.
func (h *CatalogHandler) Countries(c *gin.Context) {
	countries, err := h.facade.Countries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]dto.CountryResponse, 0, len(countries))
	for _, country := range countries {
		response = append(response, dto.ToCountryResponse(country))
	}
	c.JSON(http.StatusOK, response)
}

// Packages handles GET /api/catalog/countries/:code/packages.
func (h *CatalogHandler) Packages(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	packages, err := h.facade.Packages(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(packages) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	response := make([]dto.PackageResponse, 0, len(packages))
	for _, pkg := range packages {
		response = append(response, dto.ToPackageResponse(pkg))
	}
	c.JSON(http.StatusOK, response)
}

// Sync handles POST /api/admin/sync.
func (h *CatalogHandler) Sync(c *gin.Context) {
	result, err := h.facade.SyncCatalog(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SyncReport{
		Countries: result.Countries,
		Created:   result.Created,
		Updated:   result.Updated,
		Archived:  result.Archived,
		Failed:    result.Failed,
	})
}
