package web

import "github.com/gofiber/fiber/v3"

// Register mounts the playground routes on router.
func Register(router fiber.Router, handlers *APIHandlers) {
	router.Get("/health", handlers.HealthCheck)

	router.Get("/graph", handlers.GetGraph)
	router.Put("/graph", handlers.ReplaceGraph)

	router.Post("/edges", handlers.Connect)
	router.Delete("/edges/:id", handlers.Disconnect)

	router.Post("/nodes", handlers.AddNode)
	router.Delete("/nodes/:id", handlers.RemoveNode)

	n := router.Group("/nodes/:id")
	n.Put("/value", handlers.SetNodeValue)
	n.Post("/refresh", handlers.RefreshNode)
	n.Post("/context", handlers.CreateContext)
	n.Delete("/context", handlers.DisposeContext)
	n.Patch("/inputs", handlers.UpdateInputs)
	n.Post("/execute", handlers.ExecuteNode)
	n.Post("/autorun", handlers.StartAutoRun)
	n.Delete("/autorun", handlers.StopAutoRun)
	n.Get("/state", handlers.GetNodeState)
	n.Get("/dependencies", handlers.GetDependencies)

	router.Get("/states", handlers.GetStates)
	router.Get("/formulas", handlers.GetFormulas)

	router.Get("/streams/status", handlers.GetStreamStatus)
	router.Put("/streams/endpoint", handlers.SetStreamEndpoint)

	g := router.Group("/graphs")
	g.Get("/", handlers.GetGraphs)
	g.Post("/:id/save", handlers.SaveGraph)
	g.Post("/:id/load", handlers.LoadGraph)
	g.Delete("/:id", handlers.DeleteGraph)
}
