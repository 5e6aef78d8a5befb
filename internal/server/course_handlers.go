package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/gurukul/internal/courses"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createCourseRequest struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	DetailDescription string   `json:"detailDescription"`
	Categories        []string `json:"categories"`
	CoverImage        string   `json:"coverImage"`
	Price             string   `json:"price"`
	Currency          string   `json:"currency"`
	Status            string   `json:"status"`
}

type coursePayload struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Slug              string    `json:"slug"`
	Description       string    `json:"description"`
	DetailDescription string    `json:"detailDescription,omitempty"`
	Categories        []string  `json:"categories"`
	CoverImage        *string   `json:"coverImage"`
	Price             string    `json:"price"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status,omitempty"`
	InstructorName    *string   `json:"instructorName,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (h *httpHandler) handleListCourses(c *gin.Context) {
	listings, err := h.courses.ListPublished(c.Request.Context())
	if err != nil {
		h.logger.Error("course listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "course_list_failed"})
		return
	}

	response := make([]coursePayload, 0, len(listings))
	for _, listing := range listings {
		response = append(response, coursePayload{
			ID:             listing.ID,
			Title:          listing.Title,
			Slug:           listing.Slug,
			Description:    listing.Description,
			Categories:     courses.SplitCategories(listing.Categories),
			CoverImage:     listing.CoverImageKey,
			Price:          listing.Price,
			Currency:       listing.Currency,
			InstructorName: listing.InstructorName,
			CreatedAt:      listing.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"courses": response})
}

func (h *httpHandler) handleCreateCourse(c *gin.Context) {
	var request createCourseRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	course, err := h.courses.Create(c.Request.Context(), c.GetString(callerIDContextKey), courses.CourseInput{
		Title:             request.Title,
		Description:       request.Description,
		DetailDescription: request.DetailDescription,
		Categories:        request.Categories,
		CoverImageKey:     request.CoverImage,
		Price:             request.Price,
		Currency:          request.Currency,
		Status:            request.Status,
	})
	switch {
	case err == nil:
	case errors.Is(err, courses.ErrInvalidCourse):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course", "detail": err.Error()})
		return
	case errors.Is(err, courses.ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "slug_taken"})
		return
	default:
		h.logger.Error("course create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "course_create_failed"})
		return
	}

	c.JSON(http.StatusCreated, coursePayload{
		ID:                course.ID,
		Title:             course.Title,
		Slug:              course.Slug,
		Description:       course.Description,
		DetailDescription: course.DetailDescription,
		Categories:        course.CategoryList(),
		CoverImage:        course.CoverImageKey,
		Price:             course.Price,
		Currency:          course.Currency,
		Status:            string(course.Status),
		CreatedAt:         course.CreatedAt,
	})
}
