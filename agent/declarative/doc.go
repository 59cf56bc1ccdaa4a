/*
Package declarative loads conversation definitions from YAML or JSON and
turns them into runnable conversation plans.

A definition is plain data: participants, the allowed-speaker table, the
initiator, round limit, arbitration and termination settings. The Factory
binds it to collaborators (completion provider, human input, tool registry,
sandbox manager) and returns a conversation.Plan.

	def, _ := declarative.NewYAMLLoader().LoadFile("team.yaml")
	plan, _ := declarative.NewFactory(logger).Build(def, declarative.Collaborators{Provider: p})
	session, err := router.Start(ctx, plan, seed)
*/
package declarative
