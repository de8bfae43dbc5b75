package syncer

import (
	"github.com/go-git/go-git/v5"
)

// RepoInfo is what a repository dataset records about its checkout.
type RepoInfo struct {
	Remote string
	Branch string
	Commit string
}

// repositoryMeta reads the origin remote and HEAD of the repository
// containing dir. Fields that cannot be read are left empty.
func repositoryMeta(dir string) RepoInfo {
	var info RepoInfo
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return info
	}
	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.Remote = urls[0]
		}
	}
	if head, err := repo.Head(); err == nil {
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		}
		info.Commit = head.Hash().String()
	}
	return info
}
