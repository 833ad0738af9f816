// internal/tests/decisions_api_test.go
package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fundingdesk/underwriting-backend/internal/database"
	"github.com/fundingdesk/underwriting-backend/internal/handlers"
	"github.com/fundingdesk/underwriting-backend/internal/middleware"
	"github.com/fundingdesk/underwriting-backend/internal/models"
	"github.com/fundingdesk/underwriting-backend/internal/services"
	"github.com/fundingdesk/underwriting-backend/internal/utils"
)

type DecisionAPITestSuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine

	underwriterToken string
	agentToken       string
}

func (suite *DecisionAPITestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:decision_api_test?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	suite.Require().NoError(err)

	sqlDB, err := db.DB()
	suite.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)

	suite.Require().NoError(database.AutoMigrate(db))
	suite.db = db

	utils.SetJWTSecret("test-secret")
	suite.underwriterToken = suite.tokenFor("underwriter", models.UserTypeUnderwriting)
	suite.agentToken = suite.tokenFor("agent", models.UserTypeAgent)

	decisionService := services.NewDecisionService(db, nil)
	decisionHandler := handlers.NewDecisionHandler(decisionService)

	r := gin.New()
	v1 := r.Group("/v1")

	decisions := v1.Group("/underwriting-decisions")
	decisions.Use(middleware.AuthRequired())
	{
		decisions.GET("", decisionHandler.List)
		decisions.POST("", middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting), decisionHandler.Create)
		decisions.GET("/:id", decisionHandler.Get)
		decisions.PATCH("/:id", middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting), decisionHandler.Update)
		decisions.DELETE("/:id", middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting), decisionHandler.Reset)
	}

	businesses := v1.Group("/businesses")
	businesses.Use(middleware.AuthRequired(), middleware.RoleRequired(models.UserTypeAdmin, models.UserTypeUnderwriting))
	{
		businesses.GET("/:email/decision", decisionHandler.GetByEmail)
		businesses.POST("/:email/approvals", decisionHandler.RecordApproval)
		businesses.POST("/:email/approvals/:approvalId/primary", decisionHandler.SetPrimary)
		businesses.DELETE("/:email/approvals/:approvalId", decisionHandler.DeleteApproval)
		businesses.POST("/:email/decline", decisionHandler.RecordDecline)
		businesses.POST("/:email/unqualified", decisionHandler.RecordUnqualified)
		businesses.POST("/:email/fund", decisionHandler.MarkFunded)
	}

	v1.GET("/approval-letters/:slug", decisionHandler.GetApprovalLetter)

	suite.router = r
}

func (suite *DecisionAPITestSuite) SetupTest() {
	suite.db.Unscoped().Where("1 = 1").Delete(&models.UnderwritingDecision{})
}

func (suite *DecisionAPITestSuite) tokenFor(username string, userType models.UserType) string {
	token, err := utils.GenerateJWT(uuid.New(), username, string(userType), 1)
	suite.Require().NoError(err)
	return token
}

func (suite *DecisionAPITestSuite) request(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		suite.Require().NoError(err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *DecisionAPITestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func (suite *DecisionAPITestSuite) recordApproval(email string, body map[string]interface{}) map[string]interface{} {
	w := suite.request("POST", "/v1/businesses/"+email+"/approvals", suite.underwriterToken, body)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	return suite.decode(w)
}

func (suite *DecisionAPITestSuite) TestListRequiresAuth() {
	w := suite.request("GET", "/v1/underwriting-decisions", "", nil)
	suite.Equal(http.StatusUnauthorized, w.Code)
}

func (suite *DecisionAPITestSuite) TestAgentSeesEmptyList() {
	suite.recordApproval("owner@acmebakery.com", map[string]interface{}{
		"lender":        "Rapid Capital",
		"advanceAmount": "50000",
	})

	w := suite.request("GET", "/v1/underwriting-decisions", suite.agentToken, nil)
	suite.Require().Equal(http.StatusOK, w.Code)

	response := suite.decode(w)
	data := response["data"].(map[string]interface{})
	suite.Equal(float64(0), data["total"])
}

func (suite *DecisionAPITestSuite) TestRecordAndListApprovals() {
	response := suite.recordApproval("owner@acmebakery.com", map[string]interface{}{
		"lender":        "Rapid Capital",
		"advanceAmount": "50000",
		"term":          "12 months",
	})

	data := response["data"].(map[string]interface{})
	approvals := data["approvals"].([]interface{})
	suite.Require().Len(approvals, 1)
	first := approvals[0].(map[string]interface{})
	suite.Equal(true, first["isPrimary"])
	suite.Equal("weekly", first["paymentFrequency"])

	w := suite.request("GET", "/v1/underwriting-decisions", suite.underwriterToken, nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	listData := suite.decode(w)["data"].(map[string]interface{})
	suite.Equal(float64(1), listData["total"])

	decisions := listData["decisions"].([]interface{})
	decision := decisions[0].(map[string]interface{})
	suite.Equal("approved", decision["status"])
	suite.Require().NotNil(decision["approvals"])
	suite.Len(decision["approvals"].([]interface{}), 1)
}

func (suite *DecisionAPITestSuite) TestAgentCannotRecordApprovals() {
	w := suite.request("POST", "/v1/businesses/owner@acmebakery.com/approvals", suite.agentToken, map[string]interface{}{
		"lender":        "Rapid Capital",
		"advanceAmount": "50000",
	})
	suite.Equal(http.StatusForbidden, w.Code)
}

func (suite *DecisionAPITestSuite) TestApprovalValidation() {
	w := suite.request("POST", "/v1/businesses/owner@acmebakery.com/approvals", suite.underwriterToken, map[string]interface{}{
		"lender":        "Rapid Capital",
		"advanceAmount": "fifty grand",
	})
	suite.Equal(http.StatusBadRequest, w.Code)
}

func (suite *DecisionAPITestSuite) TestDeclineLifecycle() {
	w := suite.request("POST", "/v1/businesses/owner@acmebakery.com/decline", suite.underwriterToken, map[string]interface{}{
		"businessName":   "Acme Bakery",
		"reason":         "Revenue too low",
		"followUpWorthy": true,
		"followUpDate":   "2026-09-15",
	})
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	data := suite.decode(w)["data"].(map[string]interface{})
	decision := data["decision"].(map[string]interface{})
	suite.Equal("declined", decision["status"])
	suite.Equal("Revenue too low", decision["declineReason"])
}

func (suite *DecisionAPITestSuite) TestDeclineRequiresReason() {
	w := suite.request("POST", "/v1/businesses/owner@acmebakery.com/decline", suite.underwriterToken, map[string]interface{}{
		"businessName": "Acme Bakery",
	})
	suite.Equal(http.StatusBadRequest, w.Code)
}

func (suite *DecisionAPITestSuite) TestFundingFlow() {
	suite.recordApproval("owner@acmebakery.com", map[string]interface{}{
		"lender":        "Rapid Capital",
		"advanceAmount": "50000",
	})

	w := suite.request("POST", "/v1/businesses/owner@acmebakery.com/fund", suite.underwriterToken, nil)
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	data := suite.decode(w)["data"].(map[string]interface{})
	decision := data["decision"].(map[string]interface{})
	suite.Equal("funded", decision["status"])
}

func (suite *DecisionAPITestSuite) TestStoreContractCreateAndPatch() {
	w := suite.request("POST", "/v1/underwriting-decisions", suite.underwriterToken, map[string]interface{}{
		"businessEmail": "owner@acmebakery.com",
		"businessName":  "Acme Bakery",
		"status":        "approved",
	})
	suite.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	data := suite.decode(w)["data"].(map[string]interface{})
	decision := data["decision"].(map[string]interface{})
	id := decision["id"].(string)
	version := int(decision["version"].(float64))

	// Conditional PATCH with the current version succeeds.
	req, _ := http.NewRequest("PATCH", "/v1/underwriting-decisions/"+id,
		bytes.NewBufferString(`{"notes": "first editor"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+suite.underwriterToken)
	req.Header.Set("If-Match", strconv.Itoa(version))
	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	// Replaying the same version must conflict.
	req, _ = http.NewRequest("PATCH", "/v1/underwriting-decisions/"+id,
		bytes.NewBufferString(`{"notes": "second editor"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+suite.underwriterToken)
	req.Header.Set("If-Match", strconv.Itoa(version))
	rec = httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)
	suite.Equal(http.StatusConflict, rec.Code)
}

func (suite *DecisionAPITestSuite) TestResetDecision() {
	suite.recordApproval("owner@acmebakery.com", map[string]interface{}{
		"lender":        "Rapid Capital",
		"advanceAmount": "50000",
	})

	w := suite.request("GET", "/v1/businesses/owner@acmebakery.com/decision", suite.underwriterToken, nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	data := suite.decode(w)["data"].(map[string]interface{})
	decision := data["decision"].(map[string]interface{})
	id := decision["id"].(string)

	w = suite.request("DELETE", "/v1/underwriting-decisions/"+id, suite.underwriterToken, nil)
	suite.Require().Equal(http.StatusOK, w.Code)

	w = suite.request("GET", "/v1/businesses/owner@acmebakery.com/decision", suite.underwriterToken, nil)
	suite.Equal(http.StatusNotFound, w.Code)
}

func (suite *DecisionAPITestSuite) TestApprovalLetter() {
	suite.recordApproval("owner@acmebakery.com", map[string]interface{}{
		"lender":        "Rapid Capital",
		"advanceAmount": "50000",
	})

	w := suite.request("GET", "/v1/businesses/owner@acmebakery.com/decision", suite.underwriterToken, nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	data := suite.decode(w)["data"].(map[string]interface{})
	decision := data["decision"].(map[string]interface{})
	slug := decision["approvalSlug"].(string)
	suite.Require().NotEmpty(slug)

	// The letter is public: no token required.
	w = suite.request("GET", "/v1/approval-letters/"+slug, "", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	letter := suite.decode(w)["data"].(map[string]interface{})
	suite.Equal("approved", letter["status"])
	suite.NotNil(letter["approval"])

	w = suite.request("GET", "/v1/approval-letters/no-such-slug", "", nil)
	suite.Equal(http.StatusNotFound, w.Code)
}

func TestDecisionAPISuite(t *testing.T) {
	suite.Run(t, new(DecisionAPITestSuite))
}
