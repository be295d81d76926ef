package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/routepilot/routepilot/pkg/traffic"
)

// RevisionList is the response of the revisions endpoint.
type RevisionList struct {
	Revisions []traffic.RevisionInfo `json:"revisions"`
}

func (api *API) getTraffic(c *gin.Context) {
	namespace := c.Param("namespace")
	name := c.Param("name")
	state, err := api.reconciler.Load(c.Request.Context(), namespace, name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			api.respondNotFound(c, fmt.Sprintf("no service found for %q in namespace %s", name, namespace))
			return
		}
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (api *API) putTraffic(c *gin.Context) {
	namespace := c.Param("namespace")
	name := c.Param("name")
	var state traffic.State
	if err := c.ShouldBindJSON(&state); err != nil {
		api.respondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := api.reconciler.Save(c.Request.Context(), namespace, name, &state); err != nil {
		if apierrors.IsNotFound(err) {
			api.respondNotFound(c, fmt.Sprintf("no service found for %q in namespace %s", name, namespace))
			return
		}
		api.respondError(c, err)
		return
	}
	api.respondOK(c, "traffic distribution updated")
}

func (api *API) getRevisions(c *gin.Context) {
	namespace := c.Param("namespace")
	name := c.Param("name")
	revisions, err := api.reconciler.Revisions(c.Request.Context(), namespace, name)
	if err != nil {
		if apierrors.IsNotFound(err) {
			api.respondNotFound(c, fmt.Sprintf("no service found for %q in namespace %s", name, namespace))
			return
		}
		api.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RevisionList{Revisions: revisions})
}
