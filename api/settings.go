/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package api

import (
	"net/http"

	model2 "github.com/blnkfinance/paywatch/api/model"
	"github.com/gin-gonic/gin"
)

func (a Api) UpsertPaymentSettings(c *gin.Context) {
	var settings model2.UpsertPaymentSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := settings.ValidateUpsertPaymentSettings(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.paywatch.UpsertSettings(c.Request.Context(), settings.ToPaymentSettings(c.Param("id"), c.Param("asset")))
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPaymentSettings(c *gin.Context) {
	resp, err := a.paywatch.GetSettings(c.Request.Context(), c.Param("id"), c.Param("asset"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
