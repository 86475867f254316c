package profile

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/mmchat/messaging/internal/auth"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/httpx"
)

type Service struct {
	Cache *Cache
}

type Resp struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	ProfilePicURL string `json:"profile_pic_url,omitempty"`
	Missing       bool   `json:"missing,omitempty"`
}

func ToResp(p domain.Profile) Resp {
	return Resp{ID: p.ID, Username: p.Username, ProfilePicURL: p.ProfilePicURL, Missing: p.Missing}
}

func Register(rg *gin.RouterGroup, cache *Cache) {
	s := Service{Cache: cache}
	rg.GET("/users/search", s.search)
	rg.GET("/users/:id", s.get)
}

func (s Service) search(c *gin.Context) {
	uid := auth.MustUserID(c)
	found, err := s.Cache.Search(c.Request.Context(), c.Query("q"), uid)
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	out := make([]Resp, 0, len(found))
	for _, p := range found {
		out = append(out, ToResp(p))
	}
	httpx.OK(c, gin.H{"users": out})
}

func (s Service) get(c *gin.Context) {
	p, err := s.Cache.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httpx.ErrFrom(c, err)
		return
	}
	if p.Missing {
		httpx.Err(c, http.StatusNotFound, "user not found")
		return
	}
	httpx.OK(c, ToResp(p))
}
