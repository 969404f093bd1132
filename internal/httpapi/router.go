package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/halcyonwood/inkwell/internal/common"
	"github.com/halcyonwood/inkwell/internal/httpapi/handlers"
	"github.com/halcyonwood/inkwell/internal/httpapi/middleware"
)

func NewRouter(d handlers.Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(cors.Default())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(d)

	r.GET("/ping", h.Ping)

	// users / auth
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(d.Cfg.JWTSecret))

	authGroup.GET("/me", h.Me)
	authGroup.PATCH("/me/settings", h.UpdateSettings)

	// library
	authGroup.POST("/characters", h.CreateCharacter)
	authGroup.GET("/characters", h.ListCharacters)
	authGroup.GET("/characters/:id", h.GetCharacter)
	authGroup.PUT("/characters/:id", h.UpdateCharacter)
	authGroup.DELETE("/characters/:id", h.DeleteCharacter)

	authGroup.POST("/personas", h.CreatePersona)
	authGroup.GET("/personas", h.ListPersonas)
	authGroup.PUT("/personas/:id", h.UpdatePersona)
	authGroup.DELETE("/personas/:id", h.DeletePersona)

	authGroup.POST("/lorebooks", h.CreateLorebook)
	authGroup.GET("/lorebooks", h.ListLorebooks)
	authGroup.DELETE("/lorebooks/:id", h.DeleteLorebook)
	authGroup.POST("/lorebooks/:id/entries", h.CreateLoreEntry)
	authGroup.PUT("/lorebooks/:id/entries/:entry_id", h.UpdateLoreEntry)
	authGroup.DELETE("/lorebooks/:id/entries/:entry_id", h.DeleteLoreEntry)

	// generation configuration
	authGroup.POST("/connections", h.CreateConnection)
	authGroup.GET("/connections", h.ListConnections)
	authGroup.PUT("/connections/:id", h.UpdateConnection)
	authGroup.DELETE("/connections/:id", h.DeleteConnection)
	authGroup.POST("/connections/:id/test", h.TestConnection)
	authGroup.GET("/connections/:id/models", h.ListConnectionModels)

	authGroup.POST("/sampling-configs", h.CreateSamplingConfig)
	authGroup.GET("/sampling-configs", h.ListSamplingConfigs)
	authGroup.PUT("/sampling-configs/:id", h.UpdateSamplingConfig)
	authGroup.DELETE("/sampling-configs/:id", h.DeleteSamplingConfig)

	authGroup.POST("/context-configs", h.CreateContextConfig)
	authGroup.GET("/context-configs", h.ListContextConfigs)
	authGroup.DELETE("/context-configs/:id", h.DeleteContextConfig)

	authGroup.POST("/prompt-configs", h.CreatePromptConfig)
	authGroup.GET("/prompt-configs", h.ListPromptConfigs)
	authGroup.DELETE("/prompt-configs/:id", h.DeletePromptConfig)

	// chats
	authGroup.POST("/chats", h.CreateChat)
	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:chat_id", h.GetChat)
	authGroup.PATCH("/chats/:chat_id", h.UpdateChat)
	authGroup.DELETE("/chats/:chat_id", h.DeleteChat)

	authGroup.POST("/chats/:chat_id/characters", h.AddChatCharacter)
	authGroup.PATCH("/chats/:chat_id/characters/:character_id", h.UpdateChatCharacter)
	authGroup.DELETE("/chats/:chat_id/characters/:character_id", h.RemoveChatCharacter)
	authGroup.POST("/chats/:chat_id/personas", h.AddChatPersona)
	authGroup.DELETE("/chats/:chat_id/personas/:persona_id", h.RemoveChatPersona)
	authGroup.POST("/chats/:chat_id/lorebooks", h.BindChatLorebook)
	authGroup.DELETE("/chats/:chat_id/lorebooks/:lorebook_id", h.UnbindChatLorebook)

	// messages
	authGroup.POST("/chats/:chat_id/messages", h.SendMessage)
	authGroup.GET("/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.PUT("/messages/:message_id", h.EditMessage)
	authGroup.POST("/messages/:message_id/hide", h.HideMessage)
	authGroup.DELETE("/messages/:message_id", h.DeleteMessage)
	authGroup.POST("/messages/:message_id/swipe", h.SwipeMessage)
	authGroup.POST("/messages/:message_id/regenerate", h.Regenerate)

	// generation
	authGroup.POST("/chats/:chat_id/generate", h.Generate)
	authGroup.POST("/chats/:chat_id/abort", h.AbortGeneration)
	authGroup.GET("/chats/:chat_id/events", h.ChatEvents)

	// drafts
	authGroup.POST("/chats/:chat_id/draft", h.CreateDraftJob)
	authGroup.GET("/draft-jobs/:job_id", h.GetDraftJob)

	return r
}
