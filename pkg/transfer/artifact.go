package transfer

import (
	"cmp"
	"path"
	"path/filepath"
	"slices"
)

// Artifact 一个分块的临时文件
type Artifact struct {
	Index int
	Path  string
}

// remoteArtifacts 上传分块放在目标文件同目录: <dir>/<name>.part<i>
func remoteArtifacts(target string, n int) []Artifact {
	dir, name := path.Split(target)
	parts := make([]Artifact, n)
	for i := range parts {
		parts[i] = Artifact{Index: i, Path: path.Join(dir, partName(name, i))}
	}
	return parts
}

// localArtifacts 下载分块放在本地临时目录: <tempDir>/<name>.part<i>
func localArtifacts(tempDir, name string, n int) []Artifact {
	parts := make([]Artifact, n)
	for i := range parts {
		parts[i] = Artifact{Index: i, Path: filepath.Join(tempDir, partName(name, i))}
	}
	return parts
}

// sortedArtifacts 按序号升序返回副本
func sortedArtifacts(parts []Artifact) []Artifact {
	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b Artifact) int {
		return cmp.Compare(a.Index, b.Index)
	})
	return sorted
}
