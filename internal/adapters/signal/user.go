package signal

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gin-gonic/gin"
)

// resolveUser picks the participant id: the user query parameter when given,
// otherwise the client token cookie set by the router.
func resolveUser(c *gin.Context) (domain.UserID, error) {
	if raw := c.Query("user"); raw != "" {
		return domain.ParseUserID(raw)
	}
	return domain.ParseUserID(c.GetString("client_token"))
}
