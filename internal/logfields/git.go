package logfields

import (
	"strings"

	"go.uber.org/zap"
)

func PullRequest(val int) zap.Field {
	return zap.Int("github.pull_request", val)
}

func Repository(val string) zap.Field {
	return zap.String("git.repository", val)
}

func RepositoryOwner(val string) zap.Field {
	return zap.String("github.repository_owner", val)
}

func BaseBranch(val string) zap.Field {
	return zap.String("git.base_branch", val)
}

func Branch(val string) zap.Field {
	return zap.String("git.branch", val)
}

func Remote(val string) zap.Field {
	return zap.String("git.remote", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func GitCommand(args []string) zap.Field {
	return zap.String("git.command", "git "+strings.Join(args, " "))
}
