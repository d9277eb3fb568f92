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
	"errors"
	"io"
	"net/http"

	"github.com/blnkfinance/paywatch"
	model2 "github.com/blnkfinance/paywatch/api/model"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (a Api) CreatePaymentIntent(c *gin.Context) {
	var newIntent model2.CreatePaymentIntent
	if err := c.ShouldBindJSON(&newIntent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newIntent.ValidateCreatePaymentIntent()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	intent, err := a.paywatch.CreateIntent(c.Request.Context(), paywatch.CreateIntentRequest{
		OrganizationID: newIntent.OrganizationID,
		InvoiceID:      newIntent.InvoiceID,
		Amount:         newIntent.Amount,
		Currency:       newIntent.Currency,
		Asset:          newIntent.Asset,
		MetaData:       newIntent.MetaData,
	})
	if err != nil {
		a.respondError(c, err)
		return
	}

	instructions, err := a.paywatch.PaymentInstructions(c.Request.Context(), intent)
	if err != nil {
		logrus.WithError(err).WithField("intent_id", intent.IntentID).Warn("payment instructions unavailable")
	}

	c.JSON(http.StatusCreated, model2.PaymentIntentResponse{Intent: intent, Instructions: instructions})
}

func (a Api) GetPaymentIntent(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.paywatch.GetIntent(c.Request.Context(), id)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CheckPaymentIntent reconciles the intent against the ledger now. An empty
// body is a plain status poll.
func (a Api) CheckPaymentIntent(c *gin.Context) {
	id := c.Param("id")

	var check model2.CheckPaymentIntent
	if err := c.ShouldBindJSON(&check); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := check.ValidateCheckPaymentIntent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	var hint *paywatch.StatusHint
	if check.ObservedAmount != nil || check.TxHash != "" {
		hint = &paywatch.StatusHint{ObservedAmount: check.ObservedAmount, TxHash: check.TxHash}
	}

	resp, err := a.paywatch.CheckStatus(c.Request.Context(), id, hint)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPaymentInstructions(c *gin.Context) {
	intent, err := a.paywatch.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	resp, err := a.paywatch.PaymentInstructions(c.Request.Context(), intent)
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// WatchPaymentIntent starts background observation. A settled intent is
// answered with its final status.
func (a Api) WatchPaymentIntent(c *gin.Context) {
	resp, err := a.paywatch.Watch(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	if resp.Status.IsTerminal() {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (a Api) UnwatchPaymentIntent(c *gin.Context) {
	stopped := a.paywatch.Unwatch(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"intent_id": c.Param("id"), "stopped": stopped})
}

// GetInvoicePaymentIntent returns the intent a returning payer should resume
// for an invoice, if any.
func (a Api) GetInvoicePaymentIntent(c *gin.Context) {
	resp, err := a.paywatch.GetIntentByInvoice(c.Request.Context(), c.Param("id"), c.Query("asset"))
	if err != nil {
		a.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
