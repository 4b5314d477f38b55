// Package main ChatRelay Server API
//
//	@title						ChatRelay Server API
//	@version					1.0
//	@description				Usage-metered multi-provider generation gateway
//
//	@host						localhost:8080
//	@BasePath					/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"
//
//	@tag.name					AI
//	@tag.description			Text and image generation
//
//	@tag.name					Threads
//	@tag.description			Conversation threads and sharing
//
//	@tag.name					Users
//	@tag.description			Profiles and provider preferences
package main
